package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"silverload/internal/logging"
	"silverload/internal/schema"
	"silverload/internal/storage"
	"silverload/internal/storage/tabletest"
	"silverload/pkg/records"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableContract(t *testing.T) {
	tabletest.Run(t, func(t *testing.T) storage.Table {
		tbl, err := Open(context.Background(), filepath.Join(t.TempDir(), "silver.db"), "dim_user", 2)
		require.NoError(t, err)
		t.Cleanup(func() { _ = tbl.Close() })
		return tbl
	})
}

func TestRegisteredKind(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "silver.db")
	tbl, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn, Table: "fact_stream"})
	require.NoError(t, err)
	defer tbl.Close()
	assert.Equal(t, "fact_stream", tbl.Name())
}

func TestDSN(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "file:a.db?_txlock=immediate&_pragma=busy_timeout(5000)", DSN("a.db"))
	assert.Equal(t, "file:a.db?mode=rwc&_txlock=immediate&_pragma=busy_timeout(5000)", DSN("file:a.db?mode=rwc"))
	assert.Equal(t, "file:a.db?_txlock=deferred&_pragma=busy_timeout(1)", DSN("file:a.db?_txlock=deferred&_pragma=busy_timeout(1)"))
	assert.Equal(t, "", filePath("file::memory:"))
	assert.Equal(t, "dir/a.db", filePath("file:dir/a.db?x=1"))
}

// TestConcurrentAppendsOneWinner verifies two writers racing from the same
// version cannot both commit.
func TestConcurrentAppendsOneWinner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "silver.db")
	ctx := logging.WithLogger(context.Background(), logging.NewNop())
	s := schema.Schema{Columns: []schema.Column{{Name: "id", Type: schema.Int}}}

	var tables []storage.Table
	for i := 0; i < 2; i++ {
		tbl, err := Open(ctx, path, "dim_track", 0)
		require.NoError(t, err)
		defer tbl.Close()
		tables = append(tables, tbl)
	}

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(tables))
	)
	for i, tbl := range tables {
		wg.Add(1)
		go func(i int, tbl storage.Table) {
			defer wg.Done()
			_, errs[i] = tbl.Append(ctx, storage.AppendRequest{
				BatchID: fmt.Sprintf("b%d", i),
				Schema:  s,
				Records: []records.Record{{"id": int64(i)}},
			})
		}(i, tbl)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, storage.ErrVersionConflict)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	v, err := tables[0].Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}
