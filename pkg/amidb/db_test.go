package amidb

import (
	"errors"
	"testing"

	"github.com/amidb/amidb/pkg/catalog"
	"github.com/amidb/amidb/pkg/fileio"
)

func openTestDB(t *testing.T, adapter fileio.Adapter, path string) *DB {
	t.Helper()
	db, err := Open(adapter, path, DefaultOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return db
}

func TestOpenWithUptimeTickerStartsAndStopsCleanly(t *testing.T) {
	opts := DefaultOptions()
	opts.EnableUptimeTicker = true
	db, err := Open(fileio.NewMemAdapter(), "ticker1", opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if db.uptimeTicker == nil {
		t.Fatalf("expected uptime ticker to be started")
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenCreatesEmptyCatalog(t *testing.T) {
	db := openTestDB(t, fileio.NewMemAdapter(), "a1")
	defer db.Close()

	if _, err := db.Table("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NOTFOUND looking up a table in a fresh db, got %v", err)
	}
}

func TestCreateTableAndInsertWithinTransaction(t *testing.T) {
	db := openTestDB(t, fileio.NewMemAdapter(), "a2")
	defer db.Close()

	cols := []catalog.Column{
		{Name: "id", Type: catalog.TypeInt32, IsPrimaryKey: true, NotNull: true},
		{Name: "name", Type: catalog.TypeText},
	}
	if _, err := db.CreateTable("widgets", cols, 0); err != nil {
		t.Fatalf("create table: %v", err)
	}

	tbl, err := db.Table("widgets")
	if err != nil {
		t.Fatalf("open table: %v", err)
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tbl.Insert(tx, 1, 1001); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tbl.Insert(tx, 2, 1002); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	v, err := tbl.Get(1)
	if err != nil {
		t.Fatalf("get(1): %v", err)
	}
	if v != 1001 {
		t.Fatalf("expected 1001, got %d", v)
	}

	if tbl.Schema().RowCount != 2 {
		t.Fatalf("expected row_count 2, got %d", tbl.Schema().RowCount)
	}
}

func TestTableScanOrdersByKey(t *testing.T) {
	db := openTestDB(t, fileio.NewMemAdapter(), "a3")
	defer db.Close()

	if _, err := db.CreateTable("nums", []catalog.Column{{Name: "n", Type: catalog.TypeInt32}}, -1); err != nil {
		t.Fatalf("create table: %v", err)
	}
	tbl, err := db.Table("nums")
	if err != nil {
		t.Fatalf("open table: %v", err)
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, k := range []int32{5, 1, 3, 2, 4} {
		if err := tbl.Insert(tx, k, uint32(k)); err != nil {
			t.Fatalf("insert(%d): %v", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	cur, err := tbl.Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var seen []int32
	for cur.Valid() {
		k, _, err := cur.Get()
		if err != nil {
			t.Fatalf("cursor get: %v", err)
		}
		seen = append(seen, k)
		if err := cur.Next(); err != nil {
			t.Fatalf("cursor next: %v", err)
		}
	}
	want := []int32{1, 2, 3, 4, 5}
	if len(seen) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("scan out of order at %d: got %d, want %d", i, seen[i], want[i])
		}
	}
}

func TestDropTableThenLookupFailsNotFound(t *testing.T) {
	db := openTestDB(t, fileio.NewMemAdapter(), "a4")
	defer db.Close()

	if _, err := db.CreateTable("temp", nil, -1); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := db.DropTable("temp"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	if _, err := db.Table("temp"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NOTFOUND after drop, got %v", err)
	}
}

func TestReopenPreservesTablesAndRows(t *testing.T) {
	adapter := fileio.NewMemAdapter()
	db := openTestDB(t, adapter, "a5")

	if _, err := db.CreateTable("kv", []catalog.Column{{Name: "k", Type: catalog.TypeInt32}}, -1); err != nil {
		t.Fatalf("create table: %v", err)
	}
	tbl, err := db.Table("kv")
	if err != nil {
		t.Fatalf("open table: %v", err)
	}
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tbl.Insert(tx, 7, 700); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2 := openTestDB(t, adapter, "a5")
	defer db2.Close()
	tbl2, err := db2.Table("kv")
	if err != nil {
		t.Fatalf("reopen table: %v", err)
	}
	v, err := tbl2.Get(7)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if v != 700 {
		t.Fatalf("expected 700 after reopen, got %d", v)
	}
}
