package cache

import (
	"testing"

	"github.com/amidb/amidb/pkg/dberr"
)

type fakePager struct {
	pages   map[uint32][PageSize]byte
	writes  int
	synced  bool
}

func newFakePager() *fakePager {
	return &fakePager{pages: make(map[uint32][PageSize]byte)}
}

func (f *fakePager) ReadPage(n uint32) ([PageSize]byte, error) {
	b, ok := f.pages[n]
	if !ok {
		return [PageSize]byte{}, dberr.New(dberr.IOErr, "fakepager.read", nil)
	}
	return b, nil
}

func (f *fakePager) WritePage(n uint32, body [PageSize]byte) error {
	f.pages[n] = body
	f.writes++
	return nil
}

func (f *fakePager) Sync() error {
	f.synced = true
	return nil
}

func TestGetPageHitAndMiss(t *testing.T) {
	p := newFakePager()
	p.pages[1] = [PageSize]byte{}
	c := New(4, p, nil, nil)

	e, err := c.GetPage(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.PinCount != 1 {
		t.Fatalf("expected pin count 1, got %d", e.PinCount)
	}

	e2, err := c.GetPage(1)
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if e2 != e || e2.PinCount != 2 {
		t.Fatalf("expected same entry with pin count 2, got %+v", e2)
	}
}

func TestEvictionSkipsPinnedAndTaggedPages(t *testing.T) {
	p := newFakePager()
	for i := uint32(1); i <= 3; i++ {
		p.pages[i] = [PageSize]byte{}
	}
	c := New(2, p, nil, nil)

	if _, err := c.GetPage(1); err != nil {
		t.Fatalf("get 1: %v", err)
	}
	if err := c.TagTxn(1, 99); err != nil {
		t.Fatalf("tag txn: %v", err)
	}
	if _, err := c.GetPage(2); err != nil {
		t.Fatalf("get 2: %v", err)
	}
	if err := c.Unpin(2); err != nil {
		t.Fatalf("unpin 2: %v", err)
	}

	// Cache is full (1 pinned+tagged, 2 unpinned but evictable). Loading 3
	// should evict 2, not 1.
	if _, err := c.GetPage(3); err != nil {
		t.Fatalf("get 3: %v", err)
	}
	if _, ok := c.FindEntry(2); ok {
		t.Fatalf("expected page 2 to have been evicted")
	}
	if _, ok := c.FindEntry(1); !ok {
		t.Fatalf("expected tagged page 1 to survive eviction")
	}
}

func TestEvictionFailsBusyWhenNothingEvictable(t *testing.T) {
	p := newFakePager()
	p.pages[1] = [PageSize]byte{}
	p.pages[2] = [PageSize]byte{}
	c := New(1, p, nil, nil)

	if _, err := c.GetPage(1); err != nil {
		t.Fatalf("get 1: %v", err)
	}
	_, err := c.GetPage(2)
	dberrVal, ok := err.(*dberr.Error)
	if !ok || dberrVal.Code != dberr.Busy {
		t.Fatalf("expected BUSY, got %v", err)
	}
}

func TestFlushSkipsTxnTaggedEntries(t *testing.T) {
	p := newFakePager()
	p.pages[1] = [PageSize]byte{}
	c := New(4, p, nil, nil)

	c.GetPage(1)
	c.MarkDirty(1)
	c.TagTxn(1, 7)

	if err := c.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if p.writes != 0 {
		t.Fatalf("expected txn-tagged dirty page to be skipped by flush, got %d writes", p.writes)
	}
	if !p.synced {
		t.Fatalf("expected flush to sync the pager")
	}
}
