package wal

import (
	"encoding/binary"
	"hash/crc32"
)

// Record type tags (spec §3.5).
const (
	RecBegin      uint16 = 1
	RecCommit     uint16 = 2
	RecAbort      uint16 = 3
	RecPage       uint16 = 0x10
	RecCheckpoint uint16 = 0x20
)

// Magic is the 4-byte "WALR" record magic.
const Magic uint32 = 0x57414C52

// HeaderSize is the fixed 24-byte record header size.
const HeaderSize = 24

// recordHeader is the 24-byte framing prefix of every WAL record.
type recordHeader struct {
	magic      uint32
	recType    uint16
	flags      uint16
	recordSize uint32
	txnID      uint64
	checksum   uint32
}

func encodeHeader(h recordHeader) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.magic)
	binary.LittleEndian.PutUint16(b[4:6], h.recType)
	binary.LittleEndian.PutUint16(b[6:8], h.flags)
	binary.LittleEndian.PutUint32(b[8:12], h.recordSize)
	binary.LittleEndian.PutUint64(b[12:20], h.txnID)
	binary.LittleEndian.PutUint32(b[20:24], h.checksum)
	return b
}

func decodeHeader(b []byte) recordHeader {
	return recordHeader{
		magic:      binary.LittleEndian.Uint32(b[0:4]),
		recType:    binary.LittleEndian.Uint16(b[4:6]),
		flags:      binary.LittleEndian.Uint16(b[6:8]),
		recordSize: binary.LittleEndian.Uint32(b[8:12]),
		txnID:      binary.LittleEndian.Uint64(b[12:20]),
		checksum:   binary.LittleEndian.Uint32(b[20:24]),
	}
}

// buildRecord frames recType/txnID/payload into a full record with the
// checksum computed over the header (checksum field zeroed) plus payload.
func buildRecord(recType uint16, txnID uint64, payload []byte) []byte {
	size := uint32(HeaderSize + len(payload))
	h := recordHeader{
		magic:      Magic,
		recType:    recType,
		recordSize: size,
		txnID:      txnID,
	}
	hdrBytes := encodeHeader(h)

	crc := crc32.NewIEEE()
	crc.Write(hdrBytes)
	crc.Write(payload)
	checksum := crc.Sum32()

	binary.LittleEndian.PutUint32(hdrBytes[20:24], checksum)

	out := make([]byte, 0, size)
	out = append(out, hdrBytes...)
	out = append(out, payload...)
	return out
}

// VerifyChecksum recomputes the CRC over record (with its checksum field
// zeroed) and reports whether it matches the stored value.
func VerifyChecksum(record []byte) bool {
	if len(record) < HeaderSize {
		return false
	}
	h := decodeHeader(record[:HeaderSize])
	tmp := make([]byte, len(record))
	copy(tmp, record)
	binary.LittleEndian.PutUint32(tmp[20:24], 0)

	crc := crc32.NewIEEE()
	crc.Write(tmp)
	return crc.Sum32() == h.checksum
}
