// Package cache implements the bounded, pin-aware page cache described in
// spec §3.6 and §4.2: a fixed-size slot table with an intrusive LRU list,
// dirty tracking, and transaction-tagged flush rules.
//
// Grounded on the separate pager/cache split demonstrated by the
// chirst-cdb-style pager (a pageCache interface distinct from the pager
// itself, Get/Add/Remove shaped), since the teacher's own storage layer
// folds page buffering directly into its KV store rather than factoring out
// a standalone cache component.
package cache

import (
	"github.com/amidb/amidb/internal/logger"
	"github.com/amidb/amidb/internal/metrics"
	"github.com/amidb/amidb/pkg/dberr"
)

// PageSize mirrors pkg/pager.PageSize (duplicated to avoid a needless
// import of the full pager package surface here; value fixed by spec §3.1).
const PageSize = 4096

// DefaultCapacity is the default slot-table size (spec §4.2).
const DefaultCapacity = 128

// State is a cache entry's lifecycle state.
type State int

const (
	Invalid State = iota
	Clean
	Dirty
)

// Entry holds one buffered page plus its cache bookkeeping. Body is
// addressable through a pointer so B+Tree node accessors can mutate it in
// place without copying 4096 bytes per access.
type Entry struct {
	PageNum  uint32
	Body     [PageSize]byte
	State    State
	PinCount int
	TxnID    uint64

	prev, next *Entry
}

// PageSource is the subset of the pager the cache needs to load and flush
// pages.
type PageSource interface {
	ReadPage(n uint32) ([PageSize]byte, error)
	WritePage(n uint32, body [PageSize]byte) error
	Sync() error
}

// Cache is the bounded page cache.
type Cache struct {
	capacity int
	slots    map[uint32]*Entry
	lruHead  *Entry // most recently used
	lruTail  *Entry // least recently used
	pager    PageSource
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// New creates a cache of the given capacity backed by pager.
func New(capacity int, pager PageSource, log *logger.Logger, m *metrics.Metrics) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		slots:    make(map[uint32]*Entry, capacity),
		pager:    pager,
		log:      log,
		metrics:  m,
	}
}

func (c *Cache) unlink(e *Entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.lruHead = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.lruTail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *Cache) pushHead(e *Entry) {
	e.prev = nil
	e.next = c.lruHead
	if c.lruHead != nil {
		c.lruHead.prev = e
	}
	c.lruHead = e
	if c.lruTail == nil {
		c.lruTail = e
	}
}

func (c *Cache) touch(e *Entry) {
	c.unlink(e)
	c.pushHead(e)
}

// GetPage returns the resident (pinned) entry for page n, loading it
// through the pager on a miss. If the cache is full and every entry is
// pinned or transaction-tagged, it fails BUSY.
func (c *Cache) GetPage(n uint32) (*Entry, error) {
	if e, ok := c.slots[n]; ok {
		c.touch(e)
		e.PinCount++
		if c.metrics != nil {
			c.metrics.CacheHitsTotal.Inc()
			c.metrics.CachePinnedGauge.Inc()
		}
		return e, nil
	}

	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}

	var victim *Entry
	if len(c.slots) >= c.capacity {
		v, err := c.findVictim()
		if err != nil {
			return nil, err
		}
		victim = v
	}

	body, err := c.pager.ReadPage(n)
	if err != nil {
		return nil, err
	}

	var e *Entry
	if victim != nil {
		delete(c.slots, victim.PageNum)
		c.unlink(victim)
		e = victim
		*e = Entry{}
	} else {
		e = &Entry{}
	}

	e.PageNum = n
	e.Body = body
	e.State = Clean
	e.PinCount = 1
	e.TxnID = 0

	c.slots[n] = e
	c.pushHead(e)
	if c.metrics != nil {
		c.metrics.CachePinnedGauge.Inc()
	}
	return e, nil
}

// findVictim walks the LRU chain from tail toward head for a page with
// pin_count=0 and txn_id=0, writing it through the pager first if DIRTY.
func (c *Cache) findVictim() (*Entry, error) {
	for e := c.lruTail; e != nil; e = e.prev {
		if e.PinCount != 0 || e.TxnID != 0 {
			continue
		}
		if e.State == Dirty {
			if err := c.pager.WritePage(e.PageNum, e.Body); err != nil {
				return nil, err
			}
		}
		if c.metrics != nil {
			c.metrics.CacheEvictionsTotal.Inc()
		}
		if c.log != nil {
			c.log.CacheLogger().Debug("evicted page").Uint32("page", e.PageNum).Send()
		}
		return e, nil
	}
	return nil, dberr.New(dberr.Busy, "cache.get_page", nil)
}

// MarkDirty flags the resident entry for page n as DIRTY. Fails if n is
// not resident.
func (c *Cache) MarkDirty(n uint32) error {
	e, ok := c.slots[n]
	if !ok {
		return dberr.New(dberr.NotFound, "cache.mark_dirty", nil)
	}
	e.State = Dirty
	return nil
}

// Pin increments the pin count of a resident entry.
func (c *Cache) Pin(n uint32) error {
	e, ok := c.slots[n]
	if !ok {
		return dberr.New(dberr.NotFound, "cache.pin", nil)
	}
	e.PinCount++
	if c.metrics != nil {
		c.metrics.CachePinnedGauge.Inc()
	}
	return nil
}

// Unpin decrements the pin count of a resident entry; unpinning an entry
// already at 0 is a no-op.
func (c *Cache) Unpin(n uint32) error {
	e, ok := c.slots[n]
	if !ok {
		return dberr.New(dberr.NotFound, "cache.unpin", nil)
	}
	if e.PinCount > 0 {
		e.PinCount--
		if c.metrics != nil {
			c.metrics.CachePinnedGauge.Dec()
		}
	}
	return nil
}

// UnpinAll unpins every page number in list, ignoring pages no longer
// resident. Used by the B+Tree and the transaction manager to release a
// bounded batch of pinned pages on a single error or commit path.
func (c *Cache) UnpinAll(list []uint32) {
	for _, n := range list {
		c.Unpin(n)
	}
}

// FindEntry returns the resident entry for n without pinning it, used only
// by the transaction manager.
func (c *Cache) FindEntry(n uint32) (*Entry, bool) {
	e, ok := c.slots[n]
	return e, ok
}

// TagTxn stamps the resident entry for n with a transaction id so cache
// flush skips it until commit/abort clears the tag.
func (c *Cache) TagTxn(n uint32, txnID uint64) error {
	e, ok := c.slots[n]
	if !ok {
		return dberr.New(dberr.NotFound, "cache.tag_txn", nil)
	}
	e.TxnID = txnID
	return nil
}

// ClearTxn removes the transaction tag from the resident entry for n.
func (c *Cache) ClearTxn(n uint32) error {
	e, ok := c.slots[n]
	if !ok {
		return dberr.New(dberr.NotFound, "cache.clear_txn", nil)
	}
	e.TxnID = 0
	return nil
}

// ReloadFromPager re-reads n's home image from the pager into the cache
// buffer, discarding in-memory changes, and clears state to CLEAN and the
// transaction tag. Used by transaction abort. If the read fails, the entry
// is invalidated instead.
func (c *Cache) ReloadFromPager(n uint32) error {
	e, ok := c.slots[n]
	if !ok {
		return nil
	}
	body, err := c.pager.ReadPage(n)
	if err != nil {
		delete(c.slots, n)
		c.unlink(e)
		return err
	}
	e.Body = body
	e.State = Clean
	e.TxnID = 0
	return nil
}

// Flush writes every DIRTY entry whose txn_id is 0 through the pager and
// marks it CLEAN; entries tagged by an active transaction are skipped.
// Ends with pager.Sync().
func (c *Cache) Flush() error {
	for _, e := range c.slots {
		if e.State == Dirty && e.TxnID == 0 {
			if err := c.pager.WritePage(e.PageNum, e.Body); err != nil {
				return err
			}
			e.State = Clean
		}
	}
	return c.pager.Sync()
}

// Destroy flushes and releases the slot table.
func (c *Cache) Destroy() error {
	if err := c.Flush(); err != nil {
		return err
	}
	c.slots = make(map[uint32]*Entry)
	c.lruHead, c.lruTail = nil, nil
	return nil
}
