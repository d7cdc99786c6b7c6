// Package sqlite implements the SQLite destination using the pure Go
// modernc.org/sqlite driver. SQLite allows a single writer, so the pool is
// limited to one connection and transactions take the write lock up front.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"silverload/internal/schema"
	"silverload/internal/storage"
	"silverload/internal/storage/sqltable"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect is the SQLite SQL dialect.
type Dialect struct{}

var _ sqltable.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Quote(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func (Dialect) Placeholder(int) string { return "?" }

// ColumnType maps logical types to SQLite storage classes. Booleans are
// stored as 0/1 integers.
func (Dialect) ColumnType(t schema.Type) string {
	switch t {
	case schema.Int, schema.Bool:
		return "INTEGER"
	case schema.Float:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (d Dialect) MarkersDDL() []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  table_name TEXT NOT NULL,
  version INTEGER NOT NULL,
  batch_id TEXT NOT NULL,
  units TEXT NOT NULL,
  source_schema TEXT NOT NULL,
  table_schema TEXT NOT NULL,
  row_count INTEGER NOT NULL,
  committed_at INTEGER NOT NULL,
  PRIMARY KEY (table_name, version)
)`, d.Quote(storage.MarkersTable))}
}

func (d Dialect) CreateTableSQL(table string, cols []schema.Column) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqltable.QuoteFQN(d.Quote, table), sqltable.ColumnDefs(d, cols))
}

func (d Dialect) AddColumnSQL(table string, col schema.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", sqltable.QuoteFQN(d.Quote, table), d.Quote(col.Name), d.ColumnType(col.Type))
}

func (Dialect) IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

// DSN adds the busy timeout and immediate transaction locking to dsn unless
// they are already present. Plain paths are turned into file: URIs.
func DSN(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	var params []string
	if !strings.Contains(dsn, "_txlock=") {
		params = append(params, "_txlock=immediate")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, "_pragma=busy_timeout(5000)")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// Open opens (creating if needed) the database at dsn and returns the named
// table.
func Open(ctx context.Context, dsn, table string, batchSize int) (*sqltable.Table, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	if path := filePath(dsn); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", DSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	t, err := sqltable.Open(ctx, db, Dialect{}, table, batchSize, true)
	if err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

// filePath extracts the on-disk path of a DSN, or "" for memory databases.
func filePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	return p
}

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Table, error) {
		return Open(ctx, cfg.DSN, cfg.Table, cfg.BatchSize)
	})
}
