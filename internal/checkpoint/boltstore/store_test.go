package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"silverload/internal/checkpoint"
	"silverload/internal/checkpoint/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) checkpoint.Store {
		s, err := Open(filepath.Join(t.TempDir(), "ckpt", "checkpoints.db"), "silverload")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestReopenKeepsCheckpoints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	s, err := Open(path, "")
	require.NoError(t, err)
	require.NoError(t, s.CompareAndSwap(ctx, "DimDate", 0, checkpoint.Empty("DimDate").Next([]string{"d1.json"})))
	require.NoError(t, s.Close())

	s, err = Open(path, "")
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load(ctx, "DimDate")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1.json"}, got.Units)

	names, err := s.Datasets()
	require.NoError(t, err)
	assert.Equal(t, []string{"DimDate"}, names)
}
