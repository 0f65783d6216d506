// amidbtool is a local command-line client over the amidb engine.
// Unlike the teacher's gRPC server entry point, it never opens a network
// listener (spec Non-goal: network access); every invocation opens the
// database file, runs one operation, and closes it.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/amidb/amidb/pkg/amidb"
	"github.com/amidb/amidb/pkg/catalog"
	"github.com/amidb/amidb/pkg/fileio"
)

func usage() {
	fmt.Fprintln(os.Stderr, `amidbtool: local amidb CLI

Usage:
  amidbtool -db PATH create-table -name NAME -columns "id:int32:pk,email:text"
  amidbtool -db PATH insert -table NAME -key K -value V
  amidbtool -db PATH get -table NAME -key K
  amidbtool -db PATH scan -table NAME
  amidbtool -db PATH drop-table -name NAME`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	topFlags := flag.NewFlagSet("amidbtool", flag.ExitOnError)
	dbPath := topFlags.String("db", "amidb.db", "database file path")
	topFlags.Parse(os.Args[1:])

	rest := topFlags.Args()
	if len(rest) < 1 {
		usage()
		os.Exit(2)
	}
	cmd := rest[0]
	args := rest[1:]

	db, err := amidb.Open(fileio.OSAdapter{}, *dbPath, amidb.DefaultOptions())
	if err != nil {
		log.Fatalf("open %s: %v", *dbPath, err)
	}
	defer db.Close()

	switch cmd {
	case "create-table":
		runCreateTable(db, args)
	case "insert":
		runInsert(db, args)
	case "get":
		runGet(db, args)
	case "scan":
		runScan(db, args)
	case "drop-table":
		runDropTable(db, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
}

func runCreateTable(db *amidb.DB, args []string) {
	fs := flag.NewFlagSet("create-table", flag.ExitOnError)
	name := fs.String("name", "", "table name")
	colSpec := fs.String("columns", "", `column spec, e.g. "id:int32:pk,email:text"`)
	fs.Parse(args)

	if *name == "" {
		log.Fatal("create-table: -name is required")
	}
	columns, err := parseColumns(*colSpec)
	if err != nil {
		log.Fatalf("create-table: %v", err)
	}
	if _, err := db.CreateTable(*name, columns, primaryKeyIndex(columns)); err != nil {
		log.Fatalf("create-table %s: %v", *name, err)
	}
	fmt.Printf("created table %q with %d columns\n", *name, len(columns))
}

func runInsert(db *amidb.DB, args []string) {
	fs := flag.NewFlagSet("insert", flag.ExitOnError)
	table := fs.String("table", "", "table name")
	key := fs.Int("key", 0, "row key")
	value := fs.Uint("value", 0, "row value (page number or packed payload)")
	fs.Parse(args)

	if *table == "" {
		log.Fatal("insert: -table is required")
	}
	tbl, err := db.Table(*table)
	if err != nil {
		log.Fatalf("insert: open table %s: %v", *table, err)
	}
	tx, err := db.Begin()
	if err != nil {
		log.Fatalf("insert: begin: %v", err)
	}
	if err := tbl.Insert(tx, int32(*key), uint32(*value)); err != nil {
		tx.Abort()
		log.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		log.Fatalf("insert: commit: %v", err)
	}
	fmt.Printf("inserted (%d, %d) into %q\n", *key, *value, *table)
}

func runGet(db *amidb.DB, args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	table := fs.String("table", "", "table name")
	key := fs.Int("key", 0, "row key")
	fs.Parse(args)

	if *table == "" {
		log.Fatal("get: -table is required")
	}
	tbl, err := db.Table(*table)
	if err != nil {
		log.Fatalf("get: open table %s: %v", *table, err)
	}
	v, err := tbl.Get(int32(*key))
	if err != nil {
		log.Fatalf("get: %v", err)
	}
	fmt.Printf("%d\n", v)
}

func runScan(db *amidb.DB, args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	table := fs.String("table", "", "table name")
	fs.Parse(args)

	if *table == "" {
		log.Fatal("scan: -table is required")
	}
	tbl, err := db.Table(*table)
	if err != nil {
		log.Fatalf("scan: open table %s: %v", *table, err)
	}
	cur, err := tbl.Scan()
	if err != nil {
		log.Fatalf("scan: %v", err)
	}
	for cur.Valid() {
		k, v, err := cur.Get()
		if err != nil {
			log.Fatalf("scan: %v", err)
		}
		fmt.Printf("%d\t%d\n", k, v)
		if err := cur.Next(); err != nil {
			log.Fatalf("scan: %v", err)
		}
	}
}

func runDropTable(db *amidb.DB, args []string) {
	fs := flag.NewFlagSet("drop-table", flag.ExitOnError)
	name := fs.String("name", "", "table name")
	fs.Parse(args)

	if *name == "" {
		log.Fatal("drop-table: -name is required")
	}
	if err := db.DropTable(*name); err != nil {
		log.Fatalf("drop-table %s: %v", *name, err)
	}
	fmt.Printf("dropped table %q\n", *name)
}

// parseColumns parses a comma-separated "name:type[:pk][:notnull]" spec into
// catalog.Column values.
func parseColumns(spec string) ([]catalog.Column, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	if len(parts) > catalog.MaxColumns {
		return nil, fmt.Errorf("too many columns: %d (max %d)", len(parts), catalog.MaxColumns)
	}
	cols := make([]catalog.Column, 0, len(parts))
	for _, part := range parts {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) < 2 {
			return nil, fmt.Errorf("invalid column spec %q", part)
		}
		col := catalog.Column{Name: fields[0]}
		switch fields[1] {
		case "int32":
			col.Type = catalog.TypeInt32
		case "int64":
			col.Type = catalog.TypeInt64
		case "text":
			col.Type = catalog.TypeText
		case "blob":
			col.Type = catalog.TypeBlob
		default:
			return nil, fmt.Errorf("unknown column type %q", fields[1])
		}
		for _, attr := range fields[2:] {
			switch attr {
			case "pk":
				col.IsPrimaryKey = true
				col.NotNull = true
			case "notnull":
				col.NotNull = true
			default:
				return nil, fmt.Errorf("unknown column flag %q", attr)
			}
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// primaryKeyIndex returns the index of the column marked pk, or -1 if the
// table uses the catalog's implicit row id (spec §6.4).
func primaryKeyIndex(columns []catalog.Column) int32 {
	for i, c := range columns {
		if c.IsPrimaryKey {
			return int32(i)
		}
	}
	return -1
}
