// Package sqltable implements storage.Table on top of database/sql. The SQL
// differences between engines are isolated behind Dialect; the commit
// protocol itself is shared.
package sqltable

import (
	"context"
	"database/sql"
	"strings"

	"silverload/internal/schema"
)

// Dialect describes one SQL engine.
type Dialect interface {
	Name() string
	// Quote quotes a single identifier.
	Quote(ident string) string
	// Placeholder returns the bind parameter for the n-th (1-based) argument.
	Placeholder(n int) string
	// ColumnType maps a logical type to a column type.
	ColumnType(t schema.Type) string
	// MarkersDDL returns the statements that create the commit marker table
	// when it does not exist.
	MarkersDDL() []string
	// CreateTableSQL creates the table when it does not exist.
	CreateTableSQL(table string, cols []schema.Column) string
	AddColumnSQL(table string, col schema.Column) string
	// IsUniqueViolation reports a primary key or unique constraint error.
	IsUniqueViolation(err error) bool
}

// BulkInserter is implemented by dialects with a faster path than
// multi-row INSERT.
type BulkInserter interface {
	BulkInsert(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error)
}

// NonTransactionalDDL is implemented by dialects whose DDL implicitly
// commits the surrounding transaction (MySQL). Their DDL runs before the
// commit transaction starts. AlreadyApplied reports a DDL error caused only
// by an earlier attempt having applied the same change.
type NonTransactionalDDL interface {
	AlreadyApplied(err error) bool
}

// QuoteFQN quotes each dot separated part of name with q.
func QuoteFQN(q func(string) string, name string) string {
	parts := strings.Split(name, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, q(p))
	}
	return strings.Join(out, ".")
}

// ColumnDefs renders "col TYPE" definitions. Every column is nullable.
func ColumnDefs(d Dialect, cols []schema.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = d.Quote(c.Name) + " " + d.ColumnType(c.Type)
	}
	return strings.Join(defs, ", ")
}
