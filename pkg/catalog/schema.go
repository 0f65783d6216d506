// Package catalog implements the §6.4 catalog collaborator: the worked
// example of an external consumer of the B+Tree that the core spec leaves
// unspecified beyond its wire format. It hashes table names to signed
// 32-bit keys, stores one hash-to-schema-page mapping per table in a B+Tree
// rooted at the pager header's catalog_root, and reads/writes the exact
// schema page layout §6.4 fixes.
//
// Grounded on the teacher's own higher-level store built over its KV layer
// (a name-to-metadata index kept in a second tree alongside the primary
// data tree), generalized from the teacher's JSON-encoded metadata to this
// spec's fixed-width binary schema page.
package catalog

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/amidb/amidb/pkg/pager"
)

// Column type tags. The core spec fixes the column record's byte layout but
// not the type tag enumeration; this is a minimal, closed set sufficient for
// the row types a single-file relational store needs.
const (
	TypeInt32 byte = 1
	TypeInt64 byte = 2
	TypeText  byte = 3
	TypeBlob  byte = 4
)

// Schema page layout constants (spec §6.4), all offsets relative to the
// page body (i.e. added to pager.PageHeaderSize for the absolute offset).
const (
	MaxColumns = 32

	nameOff       = 0
	nameSize      = 64
	colCountOff   = nameOff + nameSize // 64
	columnsOff    = colCountOff + 4    // 68
	columnSize    = 64 + 1 + 1 + 1 + 1 // 68: name, type, is_pk, not_null, pad
	pkIndexOff    = columnsOff + MaxColumns*columnSize
	btreeRootOff  = pkIndexOff + 4
	nextRowIDOff  = btreeRootOff + 4
	rowCountOff   = nextRowIDOff + 4
	schemaEndOff  = rowCountOff + 4
)

func init() {
	if schemaEndOff > pager.PageSize-pager.PageHeaderSize {
		panic("catalog: schema page layout overflows page body")
	}
}

// Column describes one column of a table's schema.
type Column struct {
	Name        string
	Type        byte
	IsPrimaryKey bool
	NotNull     bool
}

// Schema is the decoded form of a schema page (spec §6.4).
type Schema struct {
	Name            string
	Columns         []Column
	PrimaryKeyIndex int32 // -1 means implicit row id
	BTreeRoot       uint32
	NextRowID       uint32
	RowCount        uint32
}

// HashTableName returns the catalog key for name: a CRC-32 of its UTF-8
// bytes with the high bit masked off, guaranteeing a non-negative int32
// (spec §6.4).
func HashTableName(name string) int32 {
	sum := crc32.ChecksumIEEE([]byte(name))
	return int32(sum &^ (1 << 31))
}

func putCString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func getCString(src []byte) string {
	n := 0
	for n < len(src) && src[n] != 0 {
		n++
	}
	return string(src[:n])
}

// encode renders s into a fresh 4096-byte page body (page-header bytes
// zeroed; the caller/pager stamps page_num, page_type, and checksum).
func (s *Schema) encode() [pager.PageSize]byte {
	var buf [pager.PageSize]byte
	body := buf[pager.PageHeaderSize:]

	putCString(body[nameOff:nameOff+nameSize], s.Name)
	binary.LittleEndian.PutUint32(body[colCountOff:colCountOff+4], uint32(len(s.Columns)))

	for i, col := range s.Columns {
		rec := body[columnsOff+i*columnSize : columnsOff+(i+1)*columnSize]
		putCString(rec[0:64], col.Name)
		rec[64] = col.Type
		if col.IsPrimaryKey {
			rec[65] = 1
		}
		if col.NotNull {
			rec[66] = 1
		}
		// rec[67] pad, zero.
	}

	binary.LittleEndian.PutUint32(body[pkIndexOff:pkIndexOff+4], uint32(s.PrimaryKeyIndex))
	binary.LittleEndian.PutUint32(body[btreeRootOff:btreeRootOff+4], s.BTreeRoot)
	binary.LittleEndian.PutUint32(body[nextRowIDOff:nextRowIDOff+4], s.NextRowID)
	binary.LittleEndian.PutUint32(body[rowCountOff:rowCountOff+4], s.RowCount)

	return buf
}

// decodeSchema parses a schema page body (spec §6.4).
func decodeSchema(buf [pager.PageSize]byte) Schema {
	body := buf[pager.PageHeaderSize:]

	s := Schema{Name: getCString(body[nameOff : nameOff+nameSize])}
	numCols := binary.LittleEndian.Uint32(body[colCountOff : colCountOff+4])
	if numCols > MaxColumns {
		numCols = MaxColumns
	}
	s.Columns = make([]Column, 0, numCols)
	for i := uint32(0); i < numCols; i++ {
		rec := body[columnsOff+int(i)*columnSize : columnsOff+int(i+1)*columnSize]
		s.Columns = append(s.Columns, Column{
			Name:         getCString(rec[0:64]),
			Type:         rec[64],
			IsPrimaryKey: rec[65] != 0,
			NotNull:      rec[66] != 0,
		})
	}

	s.PrimaryKeyIndex = int32(binary.LittleEndian.Uint32(body[pkIndexOff : pkIndexOff+4]))
	s.BTreeRoot = binary.LittleEndian.Uint32(body[btreeRootOff : btreeRootOff+4])
	s.NextRowID = binary.LittleEndian.Uint32(body[nextRowIDOff : nextRowIDOff+4])
	s.RowCount = binary.LittleEndian.Uint32(body[rowCountOff : rowCountOff+4])
	return s
}
