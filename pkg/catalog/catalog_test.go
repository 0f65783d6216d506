package catalog

import (
	"testing"

	"github.com/amidb/amidb/pkg/cache"
	"github.com/amidb/amidb/pkg/dberr"
	"github.com/amidb/amidb/pkg/fileio"
	"github.com/amidb/amidb/pkg/pager"
)

func newTestCatalog(t *testing.T) (*Catalog, *pager.Pager) {
	t.Helper()
	adapter := fileio.NewMemAdapter()
	p, err := pager.Open(adapter, "catdb", false, nil, nil)
	if err != nil {
		t.Fatalf("pager open: %v", err)
	}
	c := cache.New(256, p, nil, nil)
	cat, err := Open(p, c, nil, nil)
	if err != nil {
		t.Fatalf("catalog open: %v", err)
	}
	return cat, p
}

func usersColumns() []Column {
	return []Column{
		{Name: "id", Type: TypeInt32, IsPrimaryKey: true, NotNull: true},
		{Name: "email", Type: TypeText, NotNull: true},
		{Name: "age", Type: TypeInt32},
	}
}

func TestHashTableNameIsNonNegativeAndDeterministic(t *testing.T) {
	h1 := HashTableName("users")
	h2 := HashTableName("users")
	if h1 != h2 {
		t.Fatalf("expected deterministic hash, got %d vs %d", h1, h2)
	}
	if h1 < 0 {
		t.Fatalf("expected non-negative hash, got %d", h1)
	}
	if HashTableName("orders") == h1 {
		t.Fatalf("expected different names to hash differently (in this case)")
	}
}

func TestCreateAndLookupTableRoundTrip(t *testing.T) {
	cat, _ := newTestCatalog(t)

	schema, err := cat.CreateTable("users", usersColumns(), 0)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	if schema.BTreeRoot == 0 {
		t.Fatalf("expected a non-zero data btree root")
	}

	got, schemaPN, err := cat.LookupTable("users")
	if err != nil {
		t.Fatalf("lookup table: %v", err)
	}
	if schemaPN == 0 {
		t.Fatalf("expected non-zero schema page")
	}
	if got.Name != "users" {
		t.Fatalf("expected name 'users', got %q", got.Name)
	}
	if len(got.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(got.Columns))
	}
	if got.Columns[0].Name != "id" || !got.Columns[0].IsPrimaryKey {
		t.Fatalf("unexpected column 0: %+v", got.Columns[0])
	}
	if got.Columns[1].Name != "email" || got.Columns[1].Type != TypeText {
		t.Fatalf("unexpected column 1: %+v", got.Columns[1])
	}
	if got.BTreeRoot != schema.BTreeRoot {
		t.Fatalf("expected data btree root %d, got %d", schema.BTreeRoot, got.BTreeRoot)
	}
	if got.NextRowID != 1 {
		t.Fatalf("expected next_rowid 1, got %d", got.NextRowID)
	}
}

func TestCreateDuplicateTableFailsExists(t *testing.T) {
	cat, _ := newTestCatalog(t)
	if _, err := cat.CreateTable("users", usersColumns(), 0); err != nil {
		t.Fatalf("create table: %v", err)
	}
	_, err := cat.CreateTable("users", usersColumns(), 0)
	e, ok := err.(*dberr.Error)
	if !ok || e.Code != dberr.Exists {
		t.Fatalf("expected EXISTS creating a duplicate table, got %v", err)
	}
}

func TestLookupMissingTableFailsNotFound(t *testing.T) {
	cat, _ := newTestCatalog(t)
	_, _, err := cat.LookupTable("ghost")
	e, ok := err.(*dberr.Error)
	if !ok || e.Code != dberr.NotFound {
		t.Fatalf("expected NOTFOUND, got %v", err)
	}
}

func TestDropTableRemovesEntry(t *testing.T) {
	cat, _ := newTestCatalog(t)
	if _, err := cat.CreateTable("users", usersColumns(), 0); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := cat.DropTable("users"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	_, _, err := cat.LookupTable("users")
	e, ok := err.(*dberr.Error)
	if !ok || e.Code != dberr.NotFound {
		t.Fatalf("expected NOTFOUND after drop, got %v", err)
	}
}

func TestCatalogRootPersistsAcrossReopen(t *testing.T) {
	adapter := fileio.NewMemAdapter()
	p, err := pager.Open(adapter, "catdb2", false, nil, nil)
	if err != nil {
		t.Fatalf("pager open: %v", err)
	}
	c := cache.New(256, p, nil, nil)
	cat, err := Open(p, c, nil, nil)
	if err != nil {
		t.Fatalf("catalog open: %v", err)
	}
	if _, err := cat.CreateTable("users", usersColumns(), 0); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	p2, err := pager.Open(adapter, "catdb2", false, nil, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if p2.CatalogRoot() == 0 {
		t.Fatalf("expected catalog_root to survive reopen")
	}
	c2 := cache.New(256, p2, nil, nil)
	cat2, err := Open(p2, c2, nil, nil)
	if err != nil {
		t.Fatalf("reopen catalog: %v", err)
	}
	schema, _, err := cat2.LookupTable("users")
	if err != nil {
		t.Fatalf("lookup after reopen: %v", err)
	}
	if schema.Name != "users" {
		t.Fatalf("expected name 'users' after reopen, got %q", schema.Name)
	}
}

func TestUpdateSchemaPersistsRowCount(t *testing.T) {
	cat, _ := newTestCatalog(t)
	schema, err := cat.CreateTable("users", usersColumns(), 0)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	_, schemaPN, err := cat.LookupTable("users")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}

	schema.RowCount = 5
	schema.NextRowID = 6
	if err := cat.UpdateSchema(schemaPN, schema); err != nil {
		t.Fatalf("update schema: %v", err)
	}

	got, _, err := cat.LookupTable("users")
	if err != nil {
		t.Fatalf("lookup after update: %v", err)
	}
	if got.RowCount != 5 || got.NextRowID != 6 {
		t.Fatalf("expected row_count=5 next_rowid=6, got row_count=%d next_rowid=%d", got.RowCount, got.NextRowID)
	}
}
