// Package commit appends a transformed batch to its destination table and
// then advances the dataset checkpoint.
//
// The two steps are not atomic with each other. What keeps a batch from
// landing twice is the commit marker written with the rows: a retry of the
// same units carries the same batch id and is recognised by the table, and
// a checkpoint that never advanced is repaired by tracker.Reconcile.
package commit

import (
	"context"
	"errors"
	"time"

	"silverload/internal/batch"
	"silverload/internal/checkpoint"
	"silverload/internal/errs"
	"silverload/internal/logging"
	"silverload/internal/storage"
	"silverload/internal/tracker"
)

// Hook runs after the table append and before the checkpoint advance. A
// non-nil error aborts the commit there, leaving the checkpoint behind the
// table.
type Hook func(ctx context.Context, info storage.CommitInfo) error

// Result describes one commit.
type Result struct {
	BatchID string
	// Version is the table version holding the batch.
	Version int64
	Rows    int64
	// Duplicate means the table already held the batch; no rows were written
	// by this call.
	Duplicate  bool
	Checkpoint *checkpoint.Checkpoint
	Elapsed    time.Duration
}

// Writer commits batches of one dataset.
type Writer struct {
	table   storage.Table
	tracker *tracker.Tracker
	keys    []string

	// AfterAppend is optional.
	AfterAppend Hook
}

// NewWriter returns a writer appending to table and recording progress
// through tr. Non-empty keys give the table upsert semantics.
func NewWriter(table storage.Table, tr *tracker.Tracker, keys []string) *Writer {
	return &Writer{table: table, tracker: tr, keys: append([]string(nil), keys...)}
}

// Commit appends b at cp.TableVersion and records b's units in the
// checkpoint. An empty batch commits nothing and returns cp unchanged.
func (w *Writer) Commit(ctx context.Context, cp *checkpoint.Checkpoint, b *batch.Batch) (Result, error) {
	if b.Empty() {
		return Result{Checkpoint: cp, Version: cp.TableVersion}, nil
	}
	start := time.Now()
	logger := logging.FromContext(ctx)
	id := b.ID()

	info, err := w.table.Append(ctx, storage.AppendRequest{
		ExpectedVersion: cp.TableVersion,
		BatchID:         id,
		Units:           b.Units,
		SourceSchema:    b.SourceSchema,
		Schema:          b.Schema,
		Keys:            w.keys,
		Records:         b.Records,
	})
	switch {
	case errors.Is(err, storage.ErrIncompatibleSchema):
		return Result{}, errs.Wrapf(err, errs.SchemaIncompatible, "append batch %s to %s", id, w.table.Name())
	case errors.Is(err, storage.ErrVersionConflict):
		return Result{}, errs.Wrapf(err, errs.CommitConflict, "append batch %s to %s at version %d", id, w.table.Name(), cp.TableVersion)
	case err != nil:
		return Result{}, errs.Wrapf(err, errs.CommitConflict, "append batch %s to %s", id, w.table.Name())
	}
	if info.Duplicate {
		logger.Infow("batch already committed", "batch_id", id, "version", info.Version)
	}

	if w.AfterAppend != nil {
		if err := w.AfterAppend(ctx, info); err != nil {
			return Result{}, err
		}
	}

	next, err := w.tracker.RecordConsumed(ctx, cp, tracker.Advance{
		Units:        b.Units,
		Schema:       b.SourceSchema,
		BatchID:      id,
		TableVersion: info.Version,
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{
		BatchID:    id,
		Version:    info.Version,
		Rows:       info.Rows,
		Duplicate:  info.Duplicate,
		Checkpoint: next,
		Elapsed:    time.Since(start),
	}
	logger.Infow("committed batch",
		"batch_id", id,
		"version", res.Version,
		"rows", res.Rows,
		"units", len(b.Units),
		"revision", next.Revision,
	)
	return res, nil
}
