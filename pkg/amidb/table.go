package amidb

import (
	"github.com/amidb/amidb/pkg/btree"
	"github.com/amidb/amidb/pkg/catalog"
	"github.com/amidb/amidb/pkg/dberr"
)

// Table is a handle to one catalog-registered table's data B+Tree, keyed by
// a caller-assigned int32 row key (typically the primary key, or the
// implicit row id the catalog's next_rowid counter hands out).
type Table struct {
	db       *DB
	schema   *catalog.Schema
	schemaPN uint32
	tree     *btree.Tree
}

// Schema returns the table's decoded schema.
func (t *Table) Schema() *catalog.Schema { return t.schema }

// NextRowID returns and advances the table's implicit row id counter,
// persisting the new counter value to the schema page.
func (t *Table) NextRowID() (uint32, error) {
	id := t.schema.NextRowID
	t.schema.NextRowID++
	if err := t.db.catalog.UpdateSchema(t.schemaPN, t.schema); err != nil {
		t.schema.NextRowID--
		return 0, err
	}
	return id, nil
}

// Insert upserts (key, value) into the table's data tree under tx. row_count
// only advances when key is new — a prior Search tells new rows from
// overwrites, the same convention the catalog uses to guard uniqueness
// (spec §9 design notes: the tree itself silently upserts). Pass a nil tx to
// write outside any transaction (auto-dirty, immediately visible to Flush).
func (t *Table) Insert(tx Txn, key int32, value uint32) error {
	_, err := t.tree.Search(key)
	existed := err == nil
	if err != nil && !isNotFoundErr(err) {
		return err
	}

	t.tree.SetTransaction(tx)
	defer t.tree.SetTransaction(nil)
	if err := t.tree.Insert(key, value); err != nil {
		return err
	}
	if !existed {
		t.schema.RowCount++
	}
	return t.db.catalog.UpdateSchema(t.schemaPN, t.schema)
}

// Get looks up key in the table's data tree.
func (t *Table) Get(key int32) (uint32, error) {
	return t.tree.Search(key)
}

// Delete removes key from the table's data tree under tx, then decrements
// and persists the schema's row_count.
func (t *Table) Delete(tx Txn, key int32) error {
	t.tree.SetTransaction(tx)
	defer t.tree.SetTransaction(nil)
	if err := t.tree.Delete(key); err != nil {
		return err
	}
	if t.schema.RowCount > 0 {
		t.schema.RowCount--
	}
	return t.db.catalog.UpdateSchema(t.schemaPN, t.schema)
}

// Scan returns a cursor positioned at the table's first row in ascending
// key order (invalid if the table is empty); call Valid/Get to read, Next
// to advance.
func (t *Table) Scan() (*btree.Cursor, error) {
	cur := t.tree.NewCursor()
	if err := cur.First(); err != nil {
		return nil, err
	}
	return cur, nil
}

// Txn is the subset of *pkg/txn.Txn a Table needs to tag its writes,
// matching pkg/btree.Txn so a *txn.Txn satisfies both without this package
// importing pkg/txn's concrete type into the B+Tree call path.
type Txn interface {
	AddDirtyPage(n uint32) error
	ID() uint64
}

func isNotFoundErr(err error) bool {
	e, ok := err.(*dberr.Error)
	return ok && e.Code == dberr.NotFound
}
