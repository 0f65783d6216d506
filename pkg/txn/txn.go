// Package txn implements the transaction manager of spec §3.7, §4.5, and
// §4.6: a single-threaded BEGIN/COMMIT/ABORT state machine wrapping a
// bounded, deduplicated dirty-page set, and the eager-checkpoint commit
// protocol (append page images and a COMMIT record to the WAL, flush, then
// copy pages to their home positions and empty the log).
//
// Grounded on the teacher's pkg/storage/transaction.go (a Transaction type
// carrying a reference to its owning store, a txn id, and a page set, with
// explicit Begin/Commit/Rollback state checks), generalized from the
// teacher's single in-memory KV apply to this spec's two-phase WAL-then-
// home-page write and idempotent two-pass recovery.
package txn

import (
	"github.com/amidb/amidb/internal/logger"
	"github.com/amidb/amidb/internal/metrics"
	"github.com/amidb/amidb/pkg/cache"
	"github.com/amidb/amidb/pkg/dberr"
	"github.com/amidb/amidb/pkg/wal"
)

// State is one of the transaction manager's explicit states (spec §4.5).
type State int

const (
	Idle State = iota
	Active
	Committing
	Committed
	Aborting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Active:
		return "ACTIVE"
	case Committing:
		return "COMMITTING"
	case Committed:
		return "COMMITTED"
	case Aborting:
		return "ABORTING"
	default:
		return "UNKNOWN"
	}
}

// MaxDirtyPages and MaxPinnedPages bound the transaction's tracked page
// sets (spec §3.7, §4.6: "Bounded at 64. Deduplicated.").
const (
	MaxDirtyPages  = 64
	MaxPinnedPages = 64
)

// Txn is one transaction context: WAL and cache references, the current
// state and txn id, and the bounded dirty/pinned page sets (spec §3.7).
type Txn struct {
	wal   *wal.WAL
	cache *cache.Cache
	pager wal.PageWriter
	log   *logger.Logger
	metrics *metrics.Metrics

	state       State
	id          uint64
	startOffset int

	dirty    []uint32
	dirtySet map[uint32]bool

	pinned    []uint32
	pinnedSet map[uint32]bool

	commits int
	aborts  int
}

// New creates an IDLE transaction context bound to w, c, and p (the pager,
// used only for the eager-checkpoint writes of commit step 4).
func New(w *wal.WAL, c *cache.Cache, p wal.PageWriter, log *logger.Logger, m *metrics.Metrics) *Txn {
	return &Txn{
		wal:       w,
		cache:     c,
		pager:     p,
		log:       log,
		metrics:   m,
		state:     Idle,
		dirtySet:  make(map[uint32]bool),
		pinnedSet: make(map[uint32]bool),
	}
}

// State returns the transaction's current state.
func (t *Txn) State() State { return t.state }

// ID returns the current (or most recent) transaction id.
func (t *Txn) ID() uint64 { return t.id }

// Begin allocates a fresh txn id, records the WAL's current buffer offset
// as the rollback point, and appends a BEGIN record (spec §4.6 "Begin").
func (t *Txn) Begin() error {
	if t.state != Idle {
		return dberr.New(dberr.Busy, "txn.begin", nil)
	}
	t.id = t.wal.NextTxnID()
	t.startOffset = t.wal.BufferLen()
	if err := t.wal.WriteRecord(wal.RecBegin, t.id, nil); err != nil {
		return err
	}
	t.state = Active
	if t.log != nil {
		t.log.TxnLogger().Debug("begin").Uint64("txn_id", t.id).Send()
	}
	return nil
}

// AddDirtyPage registers page n as modified under this transaction,
// deduplicated and bounded at MaxDirtyPages (spec §4.6 "Dirty page set").
func (t *Txn) AddDirtyPage(n uint32) error {
	if t.dirtySet[n] {
		return nil
	}
	if len(t.dirty) >= MaxDirtyPages {
		return dberr.New(dberr.Full, "txn.add_dirty_page", nil)
	}
	t.dirty = append(t.dirty, n)
	t.dirtySet[n] = true
	return nil
}

// IsPageDirty reports whether n is in this transaction's dirty set.
func (t *Txn) IsPageDirty(n uint32) bool { return t.dirtySet[n] }

// AddPinnedPage registers a page the caller pinned under this transaction
// so Commit/Abort can release it as part of their bulk unpin step, bounded
// at MaxPinnedPages (spec §3.7, §4.2 "pin list").
func (t *Txn) AddPinnedPage(n uint32) error {
	if t.pinnedSet[n] {
		return nil
	}
	if len(t.pinned) >= MaxPinnedPages {
		return dberr.New(dberr.Full, "txn.add_pinned_page", nil)
	}
	t.pinned = append(t.pinned, n)
	t.pinnedSet[n] = true
	return nil
}

// Commit runs the eager-checkpoint protocol of spec §4.6: WAL page images
// and a COMMIT record, a durable flush (the commit boundary), then home-
// page writes, log reset, and release of pinned pages.
func (t *Txn) Commit() error {
	if t.state != Active {
		return dberr.New(dberr.Busy, "txn.commit", nil)
	}
	t.state = Committing

	for _, pn := range t.dirty {
		e, ok := t.cache.FindEntry(pn)
		if !ok || e.State != cache.Dirty {
			continue
		}
		if err := t.wal.WritePageRecord(t.id, pn, e.Body); err != nil {
			return err
		}
	}
	if err := t.wal.WriteRecord(wal.RecCommit, t.id, nil); err != nil {
		return err
	}

	if err := t.wal.Flush(); err != nil {
		// The COMMIT record never reached disk, so recovery will ignore
		// this transaction entirely; treat it as aborted (spec §7).
		return t.rollback(err)
	}

	copied := 0
	for _, pn := range t.dirty {
		e, ok := t.cache.FindEntry(pn)
		if !ok {
			continue
		}
		if err := t.pager.WritePage(pn, e.Body); err != nil {
			if t.log != nil {
				t.log.TxnLogger().Warn("home-page write failed after durable commit").
					Uint32("page", pn).Err(err).Send()
			}
			continue // durable via WAL; recovery will redo on next open.
		}
		copied++
	}
	if err := t.pager.Sync(); err != nil && t.log != nil {
		t.log.TxnLogger().Warn("post-commit sync failed").Err(err).Send()
	}

	if err := t.wal.ResetBuffer(); err != nil {
		return err
	}

	for _, pn := range t.dirty {
		_ = t.cache.ClearTxn(pn)
	}
	for _, pn := range t.pinned {
		t.cache.Unpin(pn)
	}
	t.clearSets()

	t.state = Committed
	t.commits++
	if t.metrics != nil {
		t.metrics.TxnCommitsTotal.Inc()
	}
	if t.log != nil {
		t.log.TxnLogger().Info("commit").Uint64("txn_id", t.id).Int("pages", copied).Send()
	}
	t.state = Idle
	return nil
}

// Abort discards every dirty page's in-memory changes by reloading its
// home image, releases pinned pages, and truncates the WAL buffer back to
// the offset recorded at Begin (spec §4.6 "Abort").
func (t *Txn) Abort() error {
	if t.state != Active {
		return dberr.New(dberr.Busy, "txn.abort", nil)
	}
	t.state = Aborting
	err := t.rollback(nil)
	return err
}

// Destroy releases the context; destroying an ACTIVE transaction implicitly
// aborts it (spec §4.5).
func (t *Txn) Destroy() error {
	if t.state == Active {
		return t.Abort()
	}
	return nil
}

// rollback is the shared body of Abort and of a commit whose WAL flush
// failed: reload every dirty page from disk, release pinned pages, and
// truncate the buffer to the transaction's start offset.
func (t *Txn) rollback(cause error) error {
	for _, pn := range t.dirty {
		_ = t.cache.ReloadFromPager(pn) // failures already invalidate the entry
	}
	for _, pn := range t.pinned {
		t.cache.Unpin(pn)
	}
	t.wal.TruncateBuffer(t.startOffset)
	t.clearSets()

	t.aborts++
	if t.metrics != nil {
		t.metrics.TxnAbortsTotal.Inc()
	}
	if t.log != nil {
		t.log.TxnLogger().Info("abort").Uint64("txn_id", t.id).Int("pages", len(t.dirty)).Send()
	}
	t.state = Idle
	return cause
}

func (t *Txn) clearSets() {
	t.dirty = t.dirty[:0]
	for k := range t.dirtySet {
		delete(t.dirtySet, k)
	}
	t.pinned = t.pinned[:0]
	for k := range t.pinnedSet {
		delete(t.pinnedSet, k)
	}
}

// Stats reports the lifetime commit/abort counters (spec §3.7 "counters
// for stats").
func (t *Txn) Stats() (commits, aborts int) { return t.commits, t.aborts }
