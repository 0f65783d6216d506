package catalog

import (
	"github.com/amidb/amidb/internal/logger"
	"github.com/amidb/amidb/internal/metrics"
	"github.com/amidb/amidb/pkg/btree"
	"github.com/amidb/amidb/pkg/cache"
	"github.com/amidb/amidb/pkg/dberr"
	"github.com/amidb/amidb/pkg/pager"
)

// Catalog indexes table schemas by hashed name in a B+Tree rooted at the
// pager header's catalog_root, mapping each hash to the page number of that
// table's schema page (spec §6.4, §4.8).
type Catalog struct {
	pager   *pager.Pager
	cache   *cache.Cache
	tree    *btree.Tree
	log     *logger.Logger
	metrics *metrics.Metrics
}

// Open attaches a Catalog to p's existing catalog_root, creating a fresh
// empty catalog tree and persisting its root if none exists yet.
func Open(p *pager.Pager, c *cache.Cache, log *logger.Logger, m *metrics.Metrics) (*Catalog, error) {
	root := p.CatalogRoot()
	var tree *btree.Tree
	if root == 0 {
		t, pn, err := btree.Create(p, c, log, m)
		if err != nil {
			return nil, err
		}
		if err := p.SetCatalogRoot(pn); err != nil {
			return nil, err
		}
		tree = t
	} else {
		tree = btree.Open(p, c, root, log, m)
	}
	return &Catalog{pager: p, cache: c, tree: tree, log: log, metrics: m}, nil
}

// CreateTable allocates a new per-table data B+Tree and schema page, and
// registers the table's hashed name in the catalog tree. It performs the
// prior search the spec requires of insert-only callers (§9 design notes),
// returning EXISTS rather than silently upserting on a duplicate name.
func (cat *Catalog) CreateTable(name string, columns []Column, primaryKeyIndex int32) (*Schema, error) {
	if len(columns) > MaxColumns {
		return nil, dberr.New(dberr.Full, "catalog.create_table", nil)
	}
	key := HashTableName(name)
	if _, err := cat.tree.Search(key); err == nil {
		return nil, dberr.New(dberr.Exists, "catalog.create_table", nil)
	} else if !isNotFound(err) {
		return nil, err
	}

	_, dataRoot, err := btree.Create(cat.pager, cat.cache, cat.log, cat.metrics)
	if err != nil {
		return nil, err
	}

	schemaPN, err := cat.pager.AllocatePage()
	if err != nil {
		return nil, err
	}

	schema := &Schema{
		Name:            name,
		Columns:         columns,
		PrimaryKeyIndex: primaryKeyIndex,
		BTreeRoot:       dataRoot,
		NextRowID:       1,
		RowCount:        0,
	}
	if err := cat.writeSchemaPage(schemaPN, schema); err != nil {
		return nil, err
	}
	if err := cat.tree.Insert(key, schemaPN); err != nil {
		return nil, err
	}

	if cat.metrics != nil {
		cat.metrics.TablesCreatedTotal.Inc()
	}
	if cat.log != nil {
		cat.log.CatalogLogger().Info("created table").
			Str("name", name).Uint32("schema_page", schemaPN).Send()
	}
	return schema, nil
}

// LookupTable resolves name to its decoded schema and schema page number.
func (cat *Catalog) LookupTable(name string) (*Schema, uint32, error) {
	key := HashTableName(name)
	schemaPN, err := cat.tree.Search(key)
	if err != nil {
		return nil, 0, err
	}
	schema, err := cat.readSchemaPage(schemaPN)
	if err != nil {
		return nil, 0, err
	}
	return schema, schemaPN, nil
}

// DropTable removes name's entry from the catalog tree and frees its schema
// page. The table's own data B+Tree pages are left to the caller: the
// catalog only owns the name-to-schema mapping (spec §6.4 scopes the rest
// of table lifecycle management to the external collaborator).
func (cat *Catalog) DropTable(name string) error {
	key := HashTableName(name)
	schemaPN, err := cat.tree.Search(key)
	if err != nil {
		return err
	}
	if err := cat.tree.Delete(key); err != nil {
		return err
	}
	if err := cat.pager.FreePage(schemaPN); err != nil {
		return err
	}
	if cat.metrics != nil {
		cat.metrics.TablesDroppedTotal.Inc()
	}
	if cat.log != nil {
		cat.log.CatalogLogger().Info("dropped table").Str("name", name).Send()
	}
	return nil
}

// UpdateSchema rewrites schemaPN's page with s, used to persist a table's
// advancing next_rowid/row_count as rows are inserted or removed.
func (cat *Catalog) UpdateSchema(schemaPN uint32, s *Schema) error {
	return cat.writeSchemaPage(schemaPN, s)
}

func (cat *Catalog) writeSchemaPage(pn uint32, s *Schema) error {
	e, err := cat.cache.GetPage(pn)
	if err != nil {
		return err
	}
	e.Body = s.encode()
	e.Body[4] = pager.PageSchema
	if err := cat.cache.MarkDirty(pn); err != nil {
		cat.cache.Unpin(pn)
		return err
	}
	if err := cat.cache.Flush(); err != nil {
		cat.cache.Unpin(pn)
		return err
	}
	cat.cache.Unpin(pn)
	return nil
}

func (cat *Catalog) readSchemaPage(pn uint32) (*Schema, error) {
	e, err := cat.cache.GetPage(pn)
	if err != nil {
		return nil, err
	}
	s := decodeSchema(e.Body)
	cat.cache.Unpin(pn)
	return &s, nil
}

func isNotFound(err error) bool {
	e, ok := err.(*dberr.Error)
	return ok && e.Code == dberr.NotFound
}
