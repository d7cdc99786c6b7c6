package sqltable

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"silverload/internal/logging"
	"silverload/internal/schema"
	"silverload/internal/storage"
	"silverload/pkg/records"
)

// DefaultBatchSize is the insert chunk size when none is configured.
const DefaultBatchSize = 500

// Table is a storage.Table backed by a database/sql pool.
type Table struct {
	db        *sql.DB
	d         Dialect
	name      string
	batchSize int
	closeDB   bool
}

var _ storage.Table = (*Table)(nil)

// Open prepares the marker table and returns a Table named name. When
// ownDB is true Close also closes db.
func Open(ctx context.Context, db *sql.DB, d Dialect, name string, batchSize int, ownDB bool) (*Table, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%s: table name must not be empty", d.Name())
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	for _, stmt := range d.MarkersDDL() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s: create %s: %w", d.Name(), storage.MarkersTable, err)
		}
	}
	return &Table{db: db, d: d, name: name, batchSize: batchSize, closeDB: ownDB}, nil
}

func (t *Table) Name() string { return t.name }

func (t *Table) Close() error {
	if t.closeDB {
		return t.db.Close()
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (t *Table) ph(n int) string { return t.d.Placeholder(n) }

func (t *Table) markers() string { return t.d.Quote(storage.MarkersTable) }

func (t *Table) version(ctx context.Context, q querier) (int64, error) {
	var v int64
	query := fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s WHERE table_name = %s", t.markers(), t.ph(1))
	if err := q.QueryRowContext(ctx, query, t.name).Scan(&v); err != nil {
		return 0, fmt.Errorf("%s: read version: %w", t.d.Name(), err)
	}
	return v, nil
}

func (t *Table) Version(ctx context.Context) (int64, error) { return t.version(ctx, t.db) }

func (t *Table) commits(ctx context.Context, q querier, where string, args ...any) ([]storage.CommitInfo, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE table_name = %s%s ORDER BY version",
		strings.Join(storage.MarkerColumns, ", "), t.markers(), t.ph(1), where)
	rows, err := q.QueryContext(ctx, query, append([]any{t.name}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("%s: read commits: %w", t.d.Name(), err)
	}
	defer rows.Close()

	var out []storage.CommitInfo
	for rows.Next() {
		var m storage.Marker
		if err := rows.Scan(&m.Table, &m.Version, &m.BatchID, &m.Units, &m.SourceSchema, &m.TableSchema, &m.Rows, &m.CommittedAt); err != nil {
			return nil, fmt.Errorf("%s: scan commit: %w", t.d.Name(), err)
		}
		info, err := m.Decode()
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (t *Table) Commits(ctx context.Context, since int64) ([]storage.CommitInfo, error) {
	return t.commits(ctx, t.db, " AND version > "+t.ph(2), since)
}

func (t *Table) schema(ctx context.Context, q querier) (schema.Schema, error) {
	latest, err := t.commits(ctx, q, fmt.Sprintf(" AND version = (SELECT MAX(version) FROM %s WHERE table_name = %s)", t.markers(), t.ph(2)), t.name)
	if err != nil || len(latest) == 0 {
		return schema.Schema{}, err
	}
	return latest[0].TableSchema, nil
}

// Schema returns the table schema recorded by the latest commit.
func (t *Table) Schema(ctx context.Context) (schema.Schema, error) { return t.schema(ctx, t.db) }

func (t *Table) Rows(ctx context.Context) ([]records.Record, error) {
	s, err := t.Schema(ctx)
	if err != nil || s.Len() == 0 {
		return nil, err
	}
	cols := make([]string, s.Len())
	for i, c := range s.Columns {
		cols[i] = t.d.Quote(c.Name)
	}
	rows, err := t.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), QuoteFQN(t.d.Quote, t.name)))
	if err != nil {
		return nil, fmt.Errorf("%s: read rows: %w", t.d.Name(), err)
	}
	defer rows.Close()

	var out []records.Record
	vals := make([]any, s.Len())
	ptrs := make([]any, s.Len())
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", t.d.Name(), err)
		}
		r := make(records.Record, s.Len())
		for i, c := range s.Columns {
			if v := storage.FromSQL(vals[i], c.Type); v != nil {
				r[c.Name] = v
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	records.SortCanonical(out)
	return out, nil
}

// Append commits req as one transaction: version check, duplicate batch
// detection, table creation or evolution, key replacement, row insert and
// commit marker.
func (t *Table) Append(ctx context.Context, req storage.AppendRequest) (storage.CommitInfo, error) {
	logger := logging.FromContext(ctx).With("table", t.name, "batch_id", req.BatchID)

	if _, early := t.d.(NonTransactionalDDL); early {
		if err := t.evolveEarly(ctx, req.Schema); err != nil {
			return storage.CommitInfo{}, err
		}
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.CommitInfo{}, fmt.Errorf("%s: begin tx: %w", t.d.Name(), err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	prior, err := t.commits(ctx, tx, fmt.Sprintf(" AND batch_id = %s AND version > %s", t.ph(2), t.ph(3)), req.BatchID, req.ExpectedVersion)
	if err != nil {
		return storage.CommitInfo{}, err
	}
	if len(prior) > 0 {
		info := prior[0]
		info.Duplicate = true
		logger.Infow("batch already committed", "version", info.Version)
		return info, nil
	}

	current, err := t.version(ctx, tx)
	if err != nil {
		return storage.CommitInfo{}, err
	}
	if current != req.ExpectedVersion {
		return storage.CommitInfo{}, fmt.Errorf("%w: %s is at version %d, expected %d", storage.ErrVersionConflict, t.name, current, req.ExpectedVersion)
	}

	have, err := t.schema(ctx, tx)
	if err != nil {
		return storage.CommitInfo{}, err
	}
	merged, added, err := storage.Evolve(have, req.Schema)
	if err != nil {
		return storage.CommitInfo{}, err
	}
	if _, early := t.d.(NonTransactionalDDL); !early {
		if err := t.evolve(ctx, tx, have, merged, added); err != nil {
			return storage.CommitInfo{}, err
		}
	}
	if len(added) > 0 {
		logger.Infow("table schema evolved", "added", len(added), "columns", merged.Len())
	}

	fqn := QuoteFQN(t.d.Quote, t.name)
	if canReplace(have, req.Keys) {
		if err := t.deleteKeys(ctx, tx, fqn, req); err != nil {
			return storage.CommitInfo{}, err
		}
	}

	var inserted int64
	if len(req.Records) > 0 && merged.Len() > 0 {
		cols := merged.Names()
		copyFn := func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
			return t.insert(ctx, tx, fqn, columns, rows)
		}
		inserted, err = storage.LoadBatches(ctx, cols, storage.RowValues(req.Records, merged), t.batchSize, copyFn)
		if err != nil {
			return storage.CommitInfo{}, fmt.Errorf("%s: insert: %w", t.d.Name(), err)
		}
	}

	info := storage.CommitInfo{
		Table:        t.name,
		Version:      current + 1,
		BatchID:      req.BatchID,
		Units:        append([]string(nil), req.Units...),
		SourceSchema: req.SourceSchema,
		TableSchema:  merged,
		Rows:         inserted,
		CommittedAt:  time.Now().UTC(),
	}
	if err := t.writeMarker(ctx, tx, info); err != nil {
		return storage.CommitInfo{}, err
	}
	if err := tx.Commit(); err != nil {
		if t.d.IsUniqueViolation(err) {
			return storage.CommitInfo{}, fmt.Errorf("%w: %s: %v", storage.ErrVersionConflict, t.name, err)
		}
		return storage.CommitInfo{}, fmt.Errorf("%s: commit: %w", t.d.Name(), err)
	}
	committed = true
	logger.Infow("batch committed", "version", info.Version, "rows", inserted, "units", len(info.Units))
	return info, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// evolve creates the table or adds the new columns.
func (t *Table) evolve(ctx context.Context, ex execer, have, merged schema.Schema, added []schema.Column) error {
	ignore := func(error) bool { return false }
	if nt, ok := t.d.(NonTransactionalDDL); ok {
		ignore = nt.AlreadyApplied
	}
	if have.Len() == 0 {
		if merged.Len() == 0 {
			return nil
		}
		if _, err := ex.ExecContext(ctx, t.d.CreateTableSQL(t.name, merged.Columns)); err != nil && !ignore(err) {
			return fmt.Errorf("%s: create table: %w", t.d.Name(), err)
		}
		return nil
	}
	for _, c := range added {
		if _, err := ex.ExecContext(ctx, t.d.AddColumnSQL(t.name, c)); err != nil && !ignore(err) {
			return fmt.Errorf("%s: add column %s: %w", t.d.Name(), c.Name, err)
		}
	}
	return nil
}

// evolveEarly applies DDL outside the commit transaction for dialects that
// cannot run it inside one. A crash after this step leaves extra nullable
// columns the next attempt finds already applied.
func (t *Table) evolveEarly(ctx context.Context, batch schema.Schema) error {
	have, err := t.schema(ctx, t.db)
	if err != nil {
		return err
	}
	merged, added, err := storage.Evolve(have, batch)
	if err != nil {
		return err
	}
	return t.evolve(ctx, t.db, have, merged, added)
}

// canReplace reports whether every key column already exists in the table.
func canReplace(have schema.Schema, keys []string) bool {
	if len(keys) == 0 || have.Len() == 0 {
		return false
	}
	for _, k := range keys {
		if have.Index(k) < 0 {
			return false
		}
	}
	return true
}

func (t *Table) deleteKeys(ctx context.Context, tx *sql.Tx, fqn string, req storage.AppendRequest) error {
	stmts := map[string]*sql.Stmt{}
	defer func() {
		for _, s := range stmts {
			_ = s.Close()
		}
	}()
	for _, tuple := range storage.DistinctKeys(req.Records, req.Keys) {
		var (
			conds []string
			args  []any
			shape strings.Builder
		)
		for i, k := range req.Keys {
			if tuple[i] == nil {
				conds = append(conds, t.d.Quote(k)+" IS NULL")
				shape.WriteByte('n')
				continue
			}
			args = append(args, tuple[i])
			conds = append(conds, t.d.Quote(k)+" = "+t.ph(len(args)))
			shape.WriteByte('v')
		}
		stmt, ok := stmts[shape.String()]
		if !ok {
			var err error
			stmt, err = tx.PrepareContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", fqn, strings.Join(conds, " AND ")))
			if err != nil {
				return fmt.Errorf("%s: prepare delete: %w", t.d.Name(), err)
			}
			stmts[shape.String()] = stmt
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("%s: delete matching rows: %w", t.d.Name(), err)
		}
	}
	return nil
}

func (t *Table) insert(ctx context.Context, tx *sql.Tx, fqn string, columns []string, rows [][]any) (int64, error) {
	if bi, ok := t.d.(BulkInserter); ok {
		return bi.BulkInsert(ctx, tx, t.name, columns, rows)
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = t.d.Quote(c)
	}
	var (
		sb   strings.Builder
		args = make([]any, 0, len(rows)*len(columns))
	)
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", fqn, strings.Join(quoted, ", "))
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("row length %d != columns length %d", len(row), len(columns))
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			args = append(args, v)
			sb.WriteString(t.ph(len(args)))
		}
		sb.WriteByte(')')
	}
	res, err := tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return int64(len(rows)), nil
	}
	return n, nil
}

func (t *Table) writeMarker(ctx context.Context, tx *sql.Tx, info storage.CommitInfo) error {
	m, err := storage.EncodeMarker(info)
	if err != nil {
		return err
	}
	phs := make([]string, len(storage.MarkerColumns))
	for i := range phs {
		phs[i] = t.ph(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.markers(), strings.Join(storage.MarkerColumns, ", "), strings.Join(phs, ", "))
	if _, err := tx.ExecContext(ctx, query, m.Values()...); err != nil {
		if t.d.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s version %d already exists", storage.ErrVersionConflict, t.name, info.Version)
		}
		return fmt.Errorf("%s: write commit marker: %w", t.d.Name(), err)
	}
	return nil
}
