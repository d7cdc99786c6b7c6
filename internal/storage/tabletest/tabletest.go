// Package tabletest is the behavioural contract every storage.Table backend
// is tested against.
package tabletest

import (
	"context"
	"errors"
	"testing"

	"silverload/internal/logging"
	"silverload/internal/schema"
	"silverload/internal/storage"
	"silverload/pkg/records"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Opener returns a fresh, empty table for one subtest.
type Opener func(t *testing.T) storage.Table

var (
	userSchema = schema.Schema{Columns: []schema.Column{
		{Name: "user_id", Type: schema.String},
		{Name: "age", Type: schema.Int, Nullable: true},
		{Name: "score", Type: schema.Float, Nullable: true},
		{Name: "premium", Type: schema.Bool, Nullable: true},
	}}
	keys = []string{"user_id"}
)

func ctx() context.Context {
	return logging.WithLogger(context.Background(), logging.NewNop())
}

func appendReq(expected int64, id string, s schema.Schema, recs ...records.Record) storage.AppendRequest {
	return storage.AppendRequest{
		ExpectedVersion: expected,
		BatchID:         id,
		Units:           []string{id + ".json"},
		SourceSchema:    s,
		Schema:          s,
		Keys:            keys,
		Records:         recs,
	}
}

// Run executes the contract.
func Run(t *testing.T, open Opener) {
	t.Run("empty_table", func(t *testing.T) {
		tbl := open(t)
		v, err := tbl.Version(ctx())
		require.NoError(t, err)
		assert.Zero(t, v)
		s, err := tbl.Schema(ctx())
		require.NoError(t, err)
		assert.Zero(t, s.Len())
		rows, err := tbl.Rows(ctx())
		require.NoError(t, err)
		assert.Empty(t, rows)
		commits, err := tbl.Commits(ctx(), 0)
		require.NoError(t, err)
		assert.Empty(t, commits)
	})

	t.Run("append_round_trips_values", func(t *testing.T) {
		tbl := open(t)
		info, err := tbl.Append(ctx(), appendReq(0, "b1", userSchema,
			records.Record{"user_id": "u1", "age": int64(31), "score": 2.5, "premium": true},
			records.Record{"user_id": "u2", "premium": false},
		))
		require.NoError(t, err)
		assert.Equal(t, int64(1), info.Version)
		assert.Equal(t, int64(2), info.Rows)
		assert.False(t, info.Duplicate)

		rows, err := tbl.Rows(ctx())
		require.NoError(t, err)
		assert.Equal(t, []records.Record{
			{"user_id": "u1", "age": int64(31), "score": 2.5, "premium": true},
			{"user_id": "u2", "premium": false},
		}, rows)

		s, err := tbl.Schema(ctx())
		require.NoError(t, err)
		assert.Equal(t, userSchema.Names(), s.Names())
	})

	t.Run("version_conflict", func(t *testing.T) {
		tbl := open(t)
		_, err := tbl.Append(ctx(), appendReq(0, "b1", userSchema, records.Record{"user_id": "u1"}))
		require.NoError(t, err)

		_, err = tbl.Append(ctx(), appendReq(0, "b2", userSchema, records.Record{"user_id": "u2"}))
		assert.True(t, errors.Is(err, storage.ErrVersionConflict), "err=%v", err)

		v, err := tbl.Version(ctx())
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
	})

	t.Run("duplicate_batch_detected", func(t *testing.T) {
		tbl := open(t)
		first, err := tbl.Append(ctx(), appendReq(0, "b1", userSchema, records.Record{"user_id": "u1"}))
		require.NoError(t, err)

		again, err := tbl.Append(ctx(), appendReq(0, "b1", userSchema, records.Record{"user_id": "u1"}))
		require.NoError(t, err)
		assert.True(t, again.Duplicate)
		assert.Equal(t, first.Version, again.Version)
		assert.Equal(t, []string{"b1.json"}, again.Units)

		rows, err := tbl.Rows(ctx())
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("schema_evolves_additively", func(t *testing.T) {
		tbl := open(t)
		narrow := schema.Schema{Columns: []schema.Column{{Name: "user_id", Type: schema.String}}}
		_, err := tbl.Append(ctx(), appendReq(0, "b1", narrow, records.Record{"user_id": "u1"}))
		require.NoError(t, err)

		wide := narrow.With(schema.Column{Name: "country", Type: schema.String, Nullable: true})
		info, err := tbl.Append(ctx(), appendReq(1, "b2", wide, records.Record{"user_id": "u2", "country": "SE"}))
		require.NoError(t, err)
		assert.Equal(t, []string{"user_id", "country"}, info.TableSchema.Names())

		rows, err := tbl.Rows(ctx())
		require.NoError(t, err)
		assert.ElementsMatch(t, []records.Record{
			{"user_id": "u1"},
			{"user_id": "u2", "country": "SE"},
		}, rows)
	})

	t.Run("incompatible_schema", func(t *testing.T) {
		tbl := open(t)
		_, err := tbl.Append(ctx(), appendReq(0, "b1", userSchema, records.Record{"user_id": "u1", "age": int64(3)}))
		require.NoError(t, err)

		changed := userSchema.With(schema.Column{Name: "age", Type: schema.String, Nullable: true})
		_, err = tbl.Append(ctx(), appendReq(1, "b2", changed, records.Record{"user_id": "u2", "age": "three"}))
		assert.True(t, errors.Is(err, storage.ErrIncompatibleSchema), "err=%v", err)

		v, err := tbl.Version(ctx())
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
	})

	t.Run("keys_are_replaced", func(t *testing.T) {
		tbl := open(t)
		_, err := tbl.Append(ctx(), appendReq(0, "b1", userSchema,
			records.Record{"user_id": "u1", "age": int64(20)},
			records.Record{"user_id": "u2", "age": int64(30)},
		))
		require.NoError(t, err)
		_, err = tbl.Append(ctx(), appendReq(1, "b2", userSchema,
			records.Record{"user_id": "u1", "age": int64(21)},
		))
		require.NoError(t, err)

		rows, err := tbl.Rows(ctx())
		require.NoError(t, err)
		assert.Equal(t, []records.Record{
			{"user_id": "u1", "age": int64(21)},
			{"user_id": "u2", "age": int64(30)},
		}, rows)
	})

	t.Run("keyless_appends", func(t *testing.T) {
		tbl := open(t)
		req := appendReq(0, "b1", userSchema, records.Record{"user_id": "u1"})
		req.Keys = nil
		_, err := tbl.Append(ctx(), req)
		require.NoError(t, err)
		req = appendReq(1, "b2", userSchema, records.Record{"user_id": "u1"})
		req.Keys = nil
		_, err = tbl.Append(ctx(), req)
		require.NoError(t, err)

		rows, err := tbl.Rows(ctx())
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("commits_since", func(t *testing.T) {
		tbl := open(t)
		for i, id := range []string{"b1", "b2", "b3"} {
			_, err := tbl.Append(ctx(), appendReq(int64(i), id, userSchema, records.Record{"user_id": id}))
			require.NoError(t, err)
		}
		commits, err := tbl.Commits(ctx(), 1)
		require.NoError(t, err)
		require.Len(t, commits, 2)
		assert.Equal(t, int64(2), commits[0].Version)
		assert.Equal(t, "b2", commits[0].BatchID)
		assert.Equal(t, []string{"b3.json"}, commits[1].Units)
		assert.Equal(t, userSchema, commits[1].SourceSchema)
	})

	t.Run("empty_batch_still_versions", func(t *testing.T) {
		tbl := open(t)
		info, err := tbl.Append(ctx(), appendReq(0, "b1", schema.Schema{}))
		require.NoError(t, err)
		assert.Equal(t, int64(1), info.Version)
		assert.Zero(t, info.Rows)
	})
}
