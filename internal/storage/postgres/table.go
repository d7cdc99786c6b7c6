// Package postgres implements the Postgres destination natively on pgx v5.
// A commit runs in one pgx transaction and loads rows with COPY into the
// destination table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"silverload/internal/logging"
	"silverload/internal/schema"
	"silverload/internal/storage"
	"silverload/pkg/records"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Table is a storage.Table backed by a pgx pool.
type Table struct {
	pool      *pgxpool.Pool
	name      string
	ident     pgx.Identifier
	batchSize int
}

var _ storage.Table = (*Table)(nil)

// newPool is a test hook that points to pgxpool.New by default.
var newPool = pgxpool.New

// Open connects with dsn, ensures the marker table and returns the named
// table. name may be schema qualified ("silver.dim_user").
func Open(ctx context.Context, dsn, name string, batchSize int) (*Table, error) {
	ident := splitFQN(name)
	if len(ident) == 0 {
		return nil, fmt.Errorf("postgres: table name must not be empty")
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	pool, err := newPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if _, err := pool.Exec(ctx, markersDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create %s: %w", storage.MarkersTable, err)
	}
	return &Table{pool: pool, name: name, ident: ident, batchSize: batchSize}, nil
}

var markersDDL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  table_name TEXT NOT NULL,
  version BIGINT NOT NULL,
  batch_id TEXT NOT NULL,
  units TEXT NOT NULL,
  source_schema TEXT NOT NULL,
  table_schema TEXT NOT NULL,
  row_count BIGINT NOT NULL,
  committed_at BIGINT NOT NULL,
  PRIMARY KEY (table_name, version)
)`, pgIdent(storage.MarkersTable))

func (t *Table) Name() string { return t.name }

func (t *Table) Close() error {
	t.pool.Close()
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (t *Table) version(ctx context.Context, q querier) (int64, error) {
	var v int64
	err := q.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM "+pgIdent(storage.MarkersTable)+" WHERE table_name = $1",
		t.name).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("postgres: read version: %w", err)
	}
	return v, nil
}

func (t *Table) Version(ctx context.Context) (int64, error) { return t.version(ctx, t.pool) }

func (t *Table) commits(ctx context.Context, q querier, where string, args ...any) ([]storage.CommitInfo, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE table_name = $1%s ORDER BY version",
		strings.Join(storage.MarkerColumns, ", "), pgIdent(storage.MarkersTable), where)
	rows, err := q.Query(ctx, query, append([]any{t.name}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("postgres: read commits: %w", err)
	}
	defer rows.Close()

	var out []storage.CommitInfo
	for rows.Next() {
		var m storage.Marker
		if err := rows.Scan(&m.Table, &m.Version, &m.BatchID, &m.Units, &m.SourceSchema, &m.TableSchema, &m.Rows, &m.CommittedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan commit: %w", err)
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
	return t.commits(ctx, t.pool, " AND version > $2", since)
}

func (t *Table) schema(ctx context.Context, q querier) (schema.Schema, error) {
	latest, err := t.commits(ctx, q, " AND version = (SELECT MAX(version) FROM "+pgIdent(storage.MarkersTable)+" WHERE table_name = $1)")
	if err != nil || len(latest) == 0 {
		return schema.Schema{}, err
	}
	return latest[0].TableSchema, nil
}

func (t *Table) Schema(ctx context.Context) (schema.Schema, error) { return t.schema(ctx, t.pool) }

func (t *Table) Rows(ctx context.Context) ([]records.Record, error) {
	s, err := t.Schema(ctx)
	if err != nil || s.Len() == 0 {
		return nil, err
	}
	rows, err := t.pool.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(mapIdent(s.Names()), ", "), t.ident.Sanitize()))
	if err != nil {
		return nil, fmt.Errorf("postgres: read rows: %w", err)
	}
	defer rows.Close()

	var out []records.Record
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		r := make(records.Record, len(vals))
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

// Append commits req in one transaction; see storage.Table.
func (t *Table) Append(ctx context.Context, req storage.AppendRequest) (storage.CommitInfo, error) {
	logger := logging.FromContext(ctx).With("table", t.name, "batch_id", req.BatchID)

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return storage.CommitInfo{}, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prior, err := t.commits(ctx, tx, " AND batch_id = $2 AND version > $3", req.BatchID, req.ExpectedVersion)
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
	switch {
	case have.Len() == 0 && merged.Len() > 0:
		if _, err := tx.Exec(ctx, createTableSQL(t.ident, merged.Columns)); err != nil {
			return storage.CommitInfo{}, fmt.Errorf("postgres: create table: %w", err)
		}
	case len(added) > 0:
		for _, c := range added {
			if _, err := tx.Exec(ctx, addColumnSQL(t.ident, c)); err != nil {
				return storage.CommitInfo{}, fmt.Errorf("postgres: add column %s: %w", c.Name, err)
			}
		}
		logger.Infow("table schema evolved", "added", len(added), "columns", merged.Len())
	}

	if len(req.Keys) > 0 && have.Len() > 0 && hasAll(have, req.Keys) {
		if err := t.deleteKeys(ctx, tx, req); err != nil {
			return storage.CommitInfo{}, err
		}
	}

	var inserted int64
	if len(req.Records) > 0 && merged.Len() > 0 {
		copyFn := func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
			return tx.CopyFrom(ctx, t.ident, columns, pgx.CopyFromRows(rows))
		}
		inserted, err = storage.LoadBatches(ctx, merged.Names(), storage.RowValues(req.Records, merged), t.batchSize, copyFn)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Detail != "" {
				return storage.CommitInfo{}, fmt.Errorf("postgres: copy: %s (%s)", pgErr.Detail, pgErr.SQLState())
			}
			return storage.CommitInfo{}, fmt.Errorf("postgres: copy: %w", err)
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
	m, err := storage.EncodeMarker(info)
	if err != nil {
		return storage.CommitInfo{}, err
	}
	insertMarker := fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		pgIdent(storage.MarkersTable), strings.Join(storage.MarkerColumns, ", "))
	if _, err := tx.Exec(ctx, insertMarker, m.Values()...); err != nil {
		if isUniqueViolation(err) {
			return storage.CommitInfo{}, fmt.Errorf("%w: %s version %d already exists", storage.ErrVersionConflict, t.name, info.Version)
		}
		return storage.CommitInfo{}, fmt.Errorf("postgres: write commit marker: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return storage.CommitInfo{}, fmt.Errorf("%w: %s: %v", storage.ErrVersionConflict, t.name, err)
		}
		return storage.CommitInfo{}, fmt.Errorf("postgres: commit: %w", err)
	}
	logger.Infow("batch committed", "version", info.Version, "rows", inserted, "units", len(info.Units))
	return info, nil
}

func (t *Table) deleteKeys(ctx context.Context, tx pgx.Tx, req storage.AppendRequest) error {
	batch := &pgx.Batch{}
	for _, tuple := range storage.DistinctKeys(req.Records, req.Keys) {
		conds := make([]string, len(req.Keys))
		var args []any
		for i, k := range req.Keys {
			if tuple[i] == nil {
				conds[i] = pgIdent(k) + " IS NULL"
				continue
			}
			args = append(args, tuple[i])
			conds[i] = fmt.Sprintf("%s = $%d", pgIdent(k), len(args))
		}
		batch.Queue(fmt.Sprintf("DELETE FROM %s WHERE %s", t.ident.Sanitize(), strings.Join(conds, " AND ")), args...)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: delete matching rows: %w", err)
	}
	return nil
}

func hasAll(s schema.Schema, cols []string) bool {
	for _, c := range cols {
		if s.Index(c) < 0 {
			return false
		}
	}
	return true
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func columnType(t schema.Type) string {
	switch t {
	case schema.Int:
		return "BIGINT"
	case schema.Float:
		return "DOUBLE PRECISION"
	case schema.Bool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func createTableSQL(ident pgx.Identifier, cols []schema.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = pgIdent(c.Name) + " " + columnType(c.Type)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", ident.Sanitize(), strings.Join(defs, ", "))
}

func addColumnSQL(ident pgx.Identifier, c schema.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", ident.Sanitize(), pgIdent(c.Name), columnType(c.Type))
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// mapIdent maps a list of column names to their quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
// If no dot is present, returns {"table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			id = append(id, p)
		}
	}
	return id
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Table, error) {
		return Open(ctx, cfg.DSN, cfg.Table, cfg.BatchSize)
	})
}
