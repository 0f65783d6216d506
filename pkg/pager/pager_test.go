package pager

import (
	"testing"

	"github.com/amidb/amidb/pkg/dberr"
	"github.com/amidb/amidb/pkg/fileio"
)

func TestFreshOpenCreatesValidFile(t *testing.T) {
	adapter := fileio.NewMemAdapter()
	p, err := Open(adapter, "db1", false, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if p.PageCount() != 1 {
		t.Fatalf("expected page_count=1, got %d", p.PageCount())
	}
	if p.header.Magic != Magic {
		t.Fatalf("bad magic")
	}
	if p.header.Flags&FlagDirty == 0 {
		t.Fatalf("expected DIRTY=1 on a write-enabled open")
	}
	if !p.bitmap.Test(0) {
		t.Fatalf("expected bitmap bit 0 set")
	}
	if p.bitmap.Test(1) {
		t.Fatalf("expected bitmap bit 1 clear")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	p2, err := Open(adapter, "db1", true, nil, nil)
	if err != nil {
		t.Fatalf("reopen read-only: %v", err)
	}
	if p2.header.Magic != Magic {
		t.Fatalf("bad magic on reopen")
	}
	if p2.header.Flags&FlagDirty != 0 {
		t.Fatalf("expected DIRTY=0 after clean close")
	}
}

func TestAllocateAndFreePage(t *testing.T) {
	adapter := fileio.NewMemAdapter()
	p, err := Open(adapter, "db", false, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	n, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected first allocation to be page 1, got %d", n)
	}

	if err := p.FreePage(n); err != nil {
		t.Fatalf("free: %v", err)
	}
	if p.bitmap.Test(n) {
		t.Fatalf("expected page %d to be clear after free", n)
	}

	n2, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("re-allocate: %v", err)
	}
	if n2 != n {
		t.Fatalf("expected re-allocation to reuse freed page %d, got %d", n, n2)
	}
}

func TestWriteReadPageRoundTrip(t *testing.T) {
	adapter := fileio.NewMemAdapter()
	p, err := Open(adapter, "db", false, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	n, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	var body [PageSize]byte
	body[pageTypeOff] = PageBTree
	for i := 0; i < 10; i++ {
		body[PageHeaderSize+i] = byte(0xA0 + i)
	}
	if err := p.WritePage(n, body); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := p.ReadPage(n)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for i := 0; i < 10; i++ {
		if got[PageHeaderSize+i] != byte(0xA0+i) {
			t.Fatalf("byte %d mismatch: got %x", i, got[PageHeaderSize+i])
		}
	}
}

func TestReadPageDetectsCorruption(t *testing.T) {
	adapter := fileio.NewMemAdapter()
	p, err := Open(adapter, "db", false, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	n, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	var body [PageSize]byte
	if err := p.WritePage(n, body); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Corrupt a body byte directly through the file.
	var corrupt [1]byte
	corrupt[0] = 0xFF
	if _, err := p.file.WriteAt(corrupt[:], int64(n)*PageSize+PageHeaderSize); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	_, err = p.ReadPage(n)
	dberrVal, ok := err.(*dberr.Error)
	if !ok || dberrVal.Code != dberr.Corrupt {
		t.Fatalf("expected CORRUPT error, got %v", err)
	}
}

func TestReopenWithDirtyFlagTriggersRecovery(t *testing.T) {
	adapter := fileio.NewMemAdapter()
	p, err := Open(adapter, "db7", false, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := p.AllocatePage(); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p.header.Flags&FlagDirty == 0 {
		t.Fatalf("expected DIRTY=1 before a clean close")
	}
	// No Close: simulate a crash by reopening the same backing file while
	// DIRTY is still set, with an empty WAL region (nothing to redo).

	p2, err := Open(adapter, "db7", false, nil, nil)
	if err != nil {
		t.Fatalf("reopen with dirty flag: %v", err)
	}
	if p2.header.WALHead != 0 || p2.header.WALTail != 0 {
		t.Fatalf("expected WAL pointers reset by recovery, got head=%d tail=%d", p2.header.WALHead, p2.header.WALTail)
	}
	if p2.PageCount() != p.PageCount() {
		t.Fatalf("expected page_count preserved across recovery, got %d want %d", p2.PageCount(), p.PageCount())
	}
}

func TestAllocateFullBitmapReturnsFull(t *testing.T) {
	adapter := fileio.NewMemAdapter()
	p, err := Open(adapter, "db", false, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// Page 0 is already allocated and the WAL region is never allocated;
	// fill the rest of the address space.
	for i := 0; i < MaxPages-1-WALRegionPages; i++ {
		if _, err := p.AllocatePage(); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
	}
	_, err = p.AllocatePage()
	dberrVal, ok := err.(*dberr.Error)
	if !ok || dberrVal.Code != dberr.Full {
		t.Fatalf("expected FULL error, got %v", err)
	}
}
