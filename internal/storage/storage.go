// Package storage contains the destination table contract shared by every
// backend and the storage-agnostic helpers they build on.
//
// A Table is versioned: every successful Append creates exactly one new
// version and writes a commit marker (the batch id and the input units it
// consumed) in the same transaction as the rows. The marker is what lets the
// source tracker recover when a process dies between appending a batch and
// advancing its checkpoint.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"silverload/internal/schema"
	"silverload/pkg/records"
)

// MarkersTable holds one commit marker row per table version.
const MarkersTable = "silverload_commits"

var (
	// ErrVersionConflict means the table moved past AppendRequest.ExpectedVersion.
	ErrVersionConflict = errors.New("storage: table version conflict")
	// ErrIncompatibleSchema means the batch schema cannot be merged into the
	// table schema.
	ErrIncompatibleSchema = errors.New("storage: incompatible schema")
)

// AppendRequest is one batch to append atomically.
type AppendRequest struct {
	// ExpectedVersion is the table version the batch was computed against.
	ExpectedVersion int64
	BatchID         string
	Units           []string
	// SourceSchema is recorded in the commit marker so a checkpoint can be
	// rebuilt from it.
	SourceSchema schema.Schema
	// Schema describes Records.
	Schema schema.Schema
	// Keys, when set, give upsert semantics: existing rows matching a
	// record's key are replaced.
	Keys    []string
	Records []records.Record
}

// CommitInfo describes one committed table version.
type CommitInfo struct {
	Table        string
	Version      int64
	BatchID      string
	Units        []string
	SourceSchema schema.Schema
	// TableSchema is the table schema after the commit.
	TableSchema schema.Schema
	Rows        int64
	CommittedAt time.Time
	// Duplicate is set by Append when the batch was already committed after
	// ExpectedVersion. Nothing was written.
	Duplicate bool
}

// Table is a versioned destination table.
type Table interface {
	Name() string
	// Version returns the latest committed version, 0 before the first
	// commit.
	Version(ctx context.Context) (int64, error)
	Schema(ctx context.Context) (schema.Schema, error)
	Append(ctx context.Context, req AppendRequest) (CommitInfo, error)
	// Commits returns markers with a version greater than since, oldest first.
	Commits(ctx context.Context, since int64) ([]CommitInfo, error)
	// Rows returns every row, ordered by canonical encoding.
	Rows(ctx context.Context) ([]records.Record, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Kind      string
	DSN       string
	Table     string
	BatchSize int
}

// Factory opens a Table for cfg.
type Factory func(ctx context.Context, cfg Config) (Table, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind. Backends call it
// from init.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens the table selected by cfg.Kind.
func New(ctx context.Context, cfg Config) (Table, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unsupported kind %q (registered: %v)", cfg.Kind, ListKinds())
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds in lexical order.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Evolve merges the batch schema into the table schema and returns the
// merged schema plus the columns that must be added.
func Evolve(table, batch schema.Schema) (schema.Schema, []schema.Column, error) {
	merged, err := schema.Merge(table, batch)
	if err != nil {
		return table, nil, fmt.Errorf("%w: %v", ErrIncompatibleSchema, err)
	}
	return merged, merged.Columns[table.Len():], nil
}

// RowValues lays recs out positionally in the column order of s. Int values
// bound for Float columns are widened.
func RowValues(recs []records.Record, s schema.Schema) [][]any {
	rows := make([][]any, len(recs))
	for i, r := range recs {
		row := make([]any, s.Len())
		for j, c := range s.Columns {
			v := r[c.Name]
			if c.Type == schema.Float {
				if n, ok := v.(int64); ok {
					v = float64(n)
				}
			}
			row[j] = v
		}
		rows[i] = row
	}
	return rows
}

// DistinctKeys returns the distinct key tuples of recs in first-seen order.
func DistinctKeys(recs []records.Record, keys []string) [][]any {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(recs))
	var out [][]any
	for _, r := range recs {
		k := records.KeyOf(r, keys)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		tuple := make([]any, len(keys))
		for i, c := range keys {
			tuple[i] = r[c]
		}
		out = append(out, tuple)
	}
	return out
}
