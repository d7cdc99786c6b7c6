// Package mssql implements the Microsoft SQL Server destination using
// go-mssqldb. Rows are written with the driver's bulk copy API inside the
// commit transaction.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"silverload/internal/schema"
	"silverload/internal/storage"
	"silverload/internal/storage/sqltable"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
)

// Dialect is the SQL Server dialect.
type Dialect struct{}

var (
	_ sqltable.Dialect      = Dialect{}
	_ sqltable.BulkInserter = Dialect{}
)

func (Dialect) Name() string { return "mssql" }

func (Dialect) Quote(id string) string { return msIdent(id) }

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

func (Dialect) ColumnType(t schema.Type) string {
	switch t {
	case schema.Int:
		return "BIGINT"
	case schema.Float:
		return "FLOAT"
	case schema.Bool:
		return "BIT"
	default:
		return "NVARCHAR(MAX)"
	}
}

func (d Dialect) MarkersDDL() []string {
	return []string{fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL
CREATE TABLE %s (
  table_name NVARCHAR(255) NOT NULL,
  version BIGINT NOT NULL,
  batch_id NVARCHAR(64) NOT NULL,
  units NVARCHAR(MAX) NOT NULL,
  source_schema NVARCHAR(MAX) NOT NULL,
  table_schema NVARCHAR(MAX) NOT NULL,
  row_count BIGINT NOT NULL,
  committed_at BIGINT NOT NULL,
  CONSTRAINT pk_silverload_commits PRIMARY KEY (table_name, version)
)`, storage.MarkersTable, msIdent(storage.MarkersTable))}
}

func (d Dialect) CreateTableSQL(table string, cols []schema.Column) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)",
		strings.ReplaceAll(table, "'", "''"), msFQN(table), sqltable.ColumnDefs(d, cols))
}

func (d Dialect) AddColumnSQL(table string, col schema.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s %s NULL", msFQN(table), msIdent(col.Name), d.ColumnType(col.Type))
}

// IsUniqueViolation matches error 2627 (primary key) and 2601 (unique index).
func (Dialect) IsUniqueViolation(err error) bool {
	var me mssql.Error
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == 2627 || me.Number == 2601
}

// BulkInsert copies rows into table with mssql.CopyIn on the commit
// transaction.
func (Dialect) BulkInsert(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Open connects to SQL Server and returns the named table.
func Open(ctx context.Context, dsn, table string, batchSize int) (*sqltable.Table, error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	t, err := sqltable.Open(ctx, db, Dialect{}, table, batchSize, true)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// msFQN quotes a possibly schema-qualified name like "dbo.dim_user" to
// "[dbo].[dim_user]".
func msFQN(name string) string { return sqltable.QuoteFQN(msIdent, name) }

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Table, error) {
		return Open(ctx, cfg.DSN, cfg.Table, cfg.BatchSize)
	})
}
