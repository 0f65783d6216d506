// Package amidb is the top-level facade wiring the pager, cache, WAL,
// transaction manager, B+Tree, and catalog into a single embeddable DB
// handle (spec §6 Go package layout).
//
// Grounded on the teacher's internal/server.Server, which wires its KV
// store plus a set of higher-level stores (document, version, metadata,
// prompt) behind one constructor and Close method; this package plays the
// same role minus the gRPC transport the teacher layers on top (out of
// scope: network access).
package amidb

import (
	"github.com/amidb/amidb/internal/logger"
	"github.com/amidb/amidb/internal/metrics"
	"github.com/amidb/amidb/pkg/btree"
	"github.com/amidb/amidb/pkg/cache"
	"github.com/amidb/amidb/pkg/catalog"
	"github.com/amidb/amidb/pkg/dberr"
	"github.com/amidb/amidb/pkg/fileio"
	"github.com/amidb/amidb/pkg/pager"
	"github.com/amidb/amidb/pkg/txn"
	"github.com/amidb/amidb/pkg/wal"
	"github.com/robfig/cron/v3"
)

// DB is an open database file with every core subsystem wired together.
type DB struct {
	adapter fileio.Adapter
	path    string

	pager   *pager.Pager
	cache   *cache.Cache
	wal     *wal.WAL
	walFile fileio.File
	catalog *catalog.Catalog

	log     *logger.Logger
	metrics *metrics.Metrics
	opts    Options

	uptimeTicker *cron.Cron
}

// Open opens (or initializes) the database file at path through adapter.
func Open(adapter fileio.Adapter, path string, opts Options) (*DB, error) {
	if opts.CacheCapacity <= 0 {
		opts.CacheCapacity = cache.DefaultCapacity
	}
	logCfg := logger.Config{Level: "info"}
	if opts.Log != nil {
		logCfg = *opts.Log
	}
	log := logger.NewLogger(logCfg)

	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	p, err := pager.Open(adapter, path, opts.ReadOnly, log, m)
	if err != nil {
		return nil, err
	}

	c := cache.New(opts.CacheCapacity, p, log, m)

	walFile, err := adapter.Open(path, opts.ReadOnly)
	if err != nil {
		p.Close()
		return nil, dberr.New(dberr.IOErr, "amidb.open", err)
	}
	w := wal.New(walFile, p, log, m)

	db := &DB{
		adapter: adapter,
		path:    path,
		pager:   p,
		cache:   c,
		wal:     w,
		walFile: walFile,
		log:     log,
		metrics: m,
		opts:    opts,
	}

	if !opts.ReadOnly || p.CatalogRoot() != 0 {
		cat, err := catalog.Open(p, c, log, m)
		if err != nil {
			db.Close()
			return nil, err
		}
		db.catalog = cat
	}

	if opts.EnableUptimeTicker {
		db.uptimeTicker = m.StartUptimeTicker()
	}

	return db, nil
}

// Close flushes every non-transaction-tagged dirty page and releases the
// underlying file handles.
func (db *DB) Close() error {
	if db.uptimeTicker != nil {
		db.uptimeTicker.Stop()
	}
	var first error
	if db.cache != nil {
		if err := db.cache.Destroy(); err != nil && first == nil {
			first = err
		}
	}
	if db.walFile != nil {
		if err := db.walFile.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := db.pager.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Begin starts a new transaction bound to this DB's WAL, cache, and pager.
func (db *DB) Begin() (*txn.Txn, error) {
	t := txn.New(db.wal, db.cache, db.pager, db.log, db.metrics)
	if err := t.Begin(); err != nil {
		return nil, err
	}
	return t, nil
}

// Metrics returns the DB's metrics instance, for an embedder that wants to
// register its collectors with their own Prometheus registry/handler.
func (db *DB) Metrics() *metrics.Metrics { return db.metrics }

// CreateTable registers a new table with the catalog, allocating its
// per-table data B+Tree.
func (db *DB) CreateTable(name string, columns []catalog.Column, primaryKeyIndex int32) (*catalog.Schema, error) {
	if db.catalog == nil {
		return nil, dberr.New(dberr.GenericError, "amidb.create_table", nil)
	}
	return db.catalog.CreateTable(name, columns, primaryKeyIndex)
}

// DropTable removes a table's catalog entry and frees its schema page.
func (db *DB) DropTable(name string) error {
	if db.catalog == nil {
		return dberr.New(dberr.GenericError, "amidb.drop_table", nil)
	}
	return db.catalog.DropTable(name)
}

// Table opens a handle to an existing table's data B+Tree.
func (db *DB) Table(name string) (*Table, error) {
	if db.catalog == nil {
		return nil, dberr.New(dberr.GenericError, "amidb.table", nil)
	}
	schema, schemaPN, err := db.catalog.LookupTable(name)
	if err != nil {
		return nil, err
	}
	tree := btree.Open(db.pager, db.cache, schema.BTreeRoot, db.log, db.metrics)
	return &Table{db: db, schema: schema, schemaPN: schemaPN, tree: tree}, nil
}
