// Package storetest holds the behaviour every checkpoint.Store must share.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"silverload/internal/checkpoint"
	"silverload/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a fresh store returned by newStore for every subtest.
func Run(t *testing.T, newStore func(t *testing.T) checkpoint.Store) {
	t.Run("load_missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(context.Background(), "DimUser")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run("swap_and_load", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		first := checkpoint.Empty("DimUser").Next([]string{"a.json", "b.json"})
		first.Schema = schema.Schema{Columns: []schema.Column{{Name: "user_id", Type: schema.Int}}}
		first.SchemaVersion = first.Schema.Fingerprint()
		first.TableVersion = 1
		first.UpdatedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		require.NoError(t, s.CompareAndSwap(ctx, "DimUser", 0, first))

		got, err := s.Load(ctx, "DimUser")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Revision)
		assert.Equal(t, []string{"a.json", "b.json"}, got.Units)
		assert.Equal(t, first.Schema, got.Schema)
		assert.Equal(t, int64(1), got.TableVersion)
		assert.True(t, got.UpdatedAt.Equal(first.UpdatedAt))
		assert.True(t, got.Consumed("b.json"))

		second := got.Next([]string{"c.json"})
		require.NoError(t, s.CompareAndSwap(ctx, "DimUser", 1, second))
		got, err = s.Load(ctx, "DimUser")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Revision)
		assert.Equal(t, []string{"a.json", "b.json", "c.json"}, got.Units)
	})

	t.Run("stale_revision_rejected", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.CompareAndSwap(ctx, "DimUser", 0, checkpoint.Empty("DimUser").Next([]string{"a"})))
		err := s.CompareAndSwap(ctx, "DimUser", 0, checkpoint.Empty("DimUser").Next([]string{"b"}))
		assert.ErrorIs(t, err, checkpoint.ErrRevisionMismatch)

		got, err := s.Load(ctx, "DimUser")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, got.Units)
	})

	t.Run("bad_next_rejected", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		next := checkpoint.Empty("DimUser").Next(nil)
		next.Revision = 5
		assert.Error(t, s.CompareAndSwap(ctx, "DimUser", 0, next))
		assert.Error(t, s.CompareAndSwap(ctx, "DimArtist", 0, checkpoint.Empty("DimUser").Next(nil)))
	})

	t.Run("datasets_isolated_and_delete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.CompareAndSwap(ctx, "DimUser", 0, checkpoint.Empty("DimUser").Next([]string{"u"})))
		require.NoError(t, s.CompareAndSwap(ctx, "DimArtist", 0, checkpoint.Empty("DimArtist").Next([]string{"a"})))

		require.NoError(t, s.Delete(ctx, "DimUser"))
		require.NoError(t, s.Delete(ctx, "DimUser"))
		_, err := s.Load(ctx, "DimUser")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		got, err := s.Load(ctx, "DimArtist")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, got.Units)

		// after delete the dataset starts again from revision 0
		require.NoError(t, s.CompareAndSwap(ctx, "DimUser", 0, checkpoint.Empty("DimUser").Next([]string{"v"})))
	})

	t.Run("concurrent_swaps_one_winner", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		const n = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.CompareAndSwap(ctx, "FactStream", 0, checkpoint.Empty("FactStream").Next([]string{"x"}))
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				if !errors.Is(err, checkpoint.ErrRevisionMismatch) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}
