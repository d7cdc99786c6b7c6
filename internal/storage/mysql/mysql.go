// Package mysql implements the MySQL destination with go-sql-driver/mysql.
//
// MySQL DDL commits the current transaction implicitly, so table creation
// and column additions run before the commit transaction (see
// sqltable.NonTransactionalDDL). Rows and the commit marker are still
// written atomically.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"silverload/internal/schema"
	"silverload/internal/storage"
	"silverload/internal/storage/sqltable"

	"github.com/go-sql-driver/mysql"
)

const (
	errDupEntry     = 1062
	errDupFieldName = 1060
	errTableExists  = 1050
)

// Dialect is the MySQL SQL dialect.
type Dialect struct{}

var (
	_ sqltable.Dialect             = Dialect{}
	_ sqltable.NonTransactionalDDL = Dialect{}
)

func (Dialect) Name() string { return "mysql" }

func (Dialect) Quote(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) ColumnType(t schema.Type) string {
	switch t {
	case schema.Int:
		return "BIGINT"
	case schema.Float:
		return "DOUBLE"
	case schema.Bool:
		return "BOOLEAN"
	default:
		return "LONGTEXT"
	}
}

func (d Dialect) MarkersDDL() []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  table_name VARCHAR(255) NOT NULL,
  version BIGINT NOT NULL,
  batch_id VARCHAR(64) NOT NULL,
  units LONGTEXT NOT NULL,
  source_schema LONGTEXT NOT NULL,
  table_schema LONGTEXT NOT NULL,
  row_count BIGINT NOT NULL,
  committed_at BIGINT NOT NULL,
  PRIMARY KEY (table_name, version)
) ENGINE=InnoDB`, d.Quote(storage.MarkersTable))}
}

func (d Dialect) CreateTableSQL(table string, cols []schema.Column) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE=InnoDB", sqltable.QuoteFQN(d.Quote, table), sqltable.ColumnDefs(d, cols))
}

func (d Dialect) AddColumnSQL(table string, col schema.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s NULL", sqltable.QuoteFQN(d.Quote, table), d.Quote(col.Name), d.ColumnType(col.Type))
}

func (Dialect) IsUniqueViolation(err error) bool { return errNumber(err) == errDupEntry }

func (Dialect) AlreadyApplied(err error) bool {
	n := errNumber(err)
	return n == errDupFieldName || n == errTableExists
}

func errNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// Open connects using dsn (go-sql-driver format) and returns the named table.
func Open(ctx context.Context, dsn, table string, batchSize int) (*sqltable.Table, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	t, err := sqltable.Open(ctx, db, Dialect{}, table, batchSize, true)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Table, error) {
		return Open(ctx, cfg.DSN, cfg.Table, cfg.BatchSize)
	})
}
