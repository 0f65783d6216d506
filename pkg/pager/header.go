package pager

import "encoding/binary"

// File format constants (spec §3.1–§3.2, §6.1).
const (
	Magic      uint32 = 0x416D6944 // "AmiD"
	Version    uint32 = 1
	PageSize          = 4096
	HeaderSize        = 64
	BitmapOffset      = 64
	BitmapSize        = 512
	MaxPages          = BitmapSize * 8 // 4096 pages, 16 MiB cap

	// WALRegionOffset/WALRegionPages mirror pkg/wal's RegionOffset/RegionPages;
	// the pager uses them to compute the minimum file size and to keep the
	// allocator out of the region.
	WALRegionOffset = 0x3000
	WALRegionPages  = 32

	// MinFilePages is the header page plus the 32-page WAL region plus two
	// pad pages (spec §4.1: "ensure the file is at least 35 pages long").
	MinFilePages = 1 + WALRegionPages + 2
)

// Page header layout (first 12 bytes of every page other than 0), spec §3.3.
const (
	PageHeaderSize  = 12
	pageNumOff      = 0
	pageTypeOff     = 4
	pageChecksumOff = 8
)

// Page types.
const (
	PageFree     byte = 0
	PageHeader_  byte = 1 // unused directly; page 0 is the header, addressed separately
	PageBTree    byte = 2
	PageOverflow byte = 3
	PageFreelist byte = 4
	PageWAL      byte = 5
	PageSchema   byte = 6
)

// Header flag bits.
const (
	FlagDirty uint32 = 1 << 0
)

// Header is the first 64 bytes of page 0 (spec §3.2), little-endian.
type Header struct {
	Magic         uint32
	FormatVersion uint32
	PageSizeField uint32
	PageCount     uint32
	FirstFreePage uint32
	RootPage      uint32
	WALOffset     uint32 // reserved
	Flags         uint32
	WALHead       uint32
	WALTail       uint32
	CatalogRoot   uint32
}

func (h *Header) encode() [HeaderSize]byte {
	var b [HeaderSize]byte
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.FormatVersion)
	binary.LittleEndian.PutUint32(b[8:12], h.PageSizeField)
	binary.LittleEndian.PutUint32(b[12:16], h.PageCount)
	binary.LittleEndian.PutUint32(b[16:20], h.FirstFreePage)
	binary.LittleEndian.PutUint32(b[20:24], h.RootPage)
	binary.LittleEndian.PutUint32(b[24:28], h.WALOffset)
	binary.LittleEndian.PutUint32(b[28:32], h.Flags)
	binary.LittleEndian.PutUint32(b[32:36], h.WALHead)
	binary.LittleEndian.PutUint32(b[36:40], h.WALTail)
	binary.LittleEndian.PutUint32(b[40:44], h.CatalogRoot)
	// bytes 44..63 reserved, zero.
	return b
}

func decodeHeader(b []byte) Header {
	return Header{
		Magic:         binary.LittleEndian.Uint32(b[0:4]),
		FormatVersion: binary.LittleEndian.Uint32(b[4:8]),
		PageSizeField: binary.LittleEndian.Uint32(b[8:12]),
		PageCount:     binary.LittleEndian.Uint32(b[12:16]),
		FirstFreePage: binary.LittleEndian.Uint32(b[16:20]),
		RootPage:      binary.LittleEndian.Uint32(b[20:24]),
		WALOffset:     binary.LittleEndian.Uint32(b[24:28]),
		Flags:         binary.LittleEndian.Uint32(b[28:32]),
		WALHead:       binary.LittleEndian.Uint32(b[32:36]),
		WALTail:       binary.LittleEndian.Uint32(b[36:40]),
		CatalogRoot:   binary.LittleEndian.Uint32(b[40:44]),
	}
}

// Bitmap is the 512-byte free-page allocation bitmap: bit i set means page
// i is allocated.
type Bitmap [BitmapSize]byte

func (b *Bitmap) Test(i uint32) bool {
	return b[i/8]&(1<<(i%8)) != 0
}

func (b *Bitmap) Set(i uint32) {
	b[i/8] |= 1 << (i % 8)
}

func (b *Bitmap) Clear(i uint32) {
	b[i/8] &^= 1 << (i % 8)
}

// FirstClear scans from index `from` upward and returns the first clear
// bit, or ok=false if the bitmap is exhausted.
func (b *Bitmap) FirstClear(from uint32) (uint32, bool) {
	for i := from; i < MaxPages; i++ {
		if !b.Test(i) {
			return i, true
		}
	}
	return 0, false
}
