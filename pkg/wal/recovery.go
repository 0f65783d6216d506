package wal

import (
	"encoding/binary"
	"time"

	"github.com/amidb/amidb/pkg/dberr"
)

// RecoveryStats summarizes one recovery pass.
type RecoveryStats struct {
	CommittedTxns int
	PagesReplayed int
}

// Recover performs the two-pass redo-only recovery of spec §4.4:
//
// Pass 1 walks records from offset 0 to wal_head, collecting the set of
// txn ids that appear in a COMMIT record, and stops at the first record
// whose magic or checksum is bad (the log is truncated there).
//
// Pass 2 walks the same valid prefix again, writing every PAGE record's
// image to its home page through the pager, but only for committed txns.
//
// The algorithm is idempotent: running it twice yields the same state,
// because only full-page images are replayed and only for committed
// transactions (spec §8).
func (w *WAL) Recover() (*RecoveryStats, error) {
	start := time.Now()
	head, _ := w.hio.WALPointers()

	region := make([]byte, RegionBytes)
	if _, err := w.file.ReadAt(region, RegionOffset); err != nil {
		return nil, dberr.New(dberr.IOErr, "wal.recover", err)
	}

	committed := make(map[uint64]bool)
	validEnd := 0
	pos := 0
	for pos+HeaderSize <= int(head) {
		hdr := decodeHeader(region[pos : pos+HeaderSize])
		if hdr.magic != Magic {
			break
		}
		size := int(hdr.recordSize)
		if size < HeaderSize || pos+size > int(head) {
			break
		}
		record := region[pos : pos+size]
		if !VerifyChecksum(record) {
			break
		}
		if hdr.recType == RecCommit {
			committed[hdr.txnID] = true
		}
		pos += size
		validEnd = pos
	}

	stats := &RecoveryStats{CommittedTxns: len(committed)}

	if validEnd < int(head) && w.log != nil {
		w.log.WALLogger().Warn("recovery truncated at bad record").
			Int("valid_end", validEnd).
			Uint32("wal_head", head).
			Send()
	}

	pos = 0
	for pos < validEnd {
		hdr := decodeHeader(region[pos : pos+HeaderSize])
		size := int(hdr.recordSize)
		payload := region[pos+HeaderSize : pos+size]

		if hdr.recType == RecPage && committed[hdr.txnID] {
			target := binary.LittleEndian.Uint32(payload[0:4])
			var image [PageSize]byte
			copy(image[:], payload[4:4+PageSize])
			if err := w.hio.WritePage(target, image); err != nil {
				return nil, dberr.New(dberr.IOErr, "wal.recover", err)
			}
			stats.PagesReplayed++
		}
		pos += size
	}

	if err := w.hio.Sync(); err != nil {
		return nil, dberr.New(dberr.IOErr, "wal.recover", err)
	}
	if err := w.hio.SetWALPointers(0, 0); err != nil {
		return nil, dberr.New(dberr.IOErr, "wal.recover", err)
	}

	if w.metrics != nil {
		w.metrics.WALRecoveryRunsTotal.Inc()
	}
	if w.log != nil {
		w.log.LogRecovery(stats.CommittedTxns, stats.PagesReplayed, time.Since(start))
	}

	return stats, nil
}
