// Package tracker decides which input units of a dataset are new and
// records, through the checkpoint store, which ones have been committed.
package tracker

import (
	"context"
	"errors"
	"sort"
	"time"

	"silverload/internal/checkpoint"
	"silverload/internal/datasource"
	"silverload/internal/errs"
	"silverload/internal/logging"
	"silverload/internal/schema"
	"silverload/internal/storage"
)

// Tracker is the source tracker of one dataset.
type Tracker struct {
	dataset string
	source  datasource.Store
	store   checkpoint.Store
	now     func() time.Time
}

// New returns the tracker of dataset.
func New(dataset string, source datasource.Store, store checkpoint.Store) *Tracker {
	return &Tracker{
		dataset: dataset,
		source:  source,
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Dataset returns the dataset name.
func (t *Tracker) Dataset() string { return t.dataset }

// Checkpoint loads the dataset's checkpoint. A dataset that never committed
// gets the empty revision-0 checkpoint.
func (t *Tracker) Checkpoint(ctx context.Context) (*checkpoint.Checkpoint, error) {
	cp, err := t.store.Load(ctx, t.dataset)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		return checkpoint.Empty(t.dataset), nil
	case err != nil:
		return nil, errs.Wrapf(err, errs.CheckpointCorrupt, "load checkpoint of %s", t.dataset)
	}
	return cp, nil
}

// ListUnprocessed returns the units not yet in cp's ledger, in arrival order
// (modification time, then id) when every unit has a modification time and
// in lexical id order otherwise.
//
// Every unit in the ledger must still exist at the source; a ledger entry
// without a unit is reported as CheckpointCorrupt rather than repaired.
func (t *Tracker) ListUnprocessed(ctx context.Context, cp *checkpoint.Checkpoint) ([]datasource.Unit, error) {
	units, err := t.source.List(ctx)
	if err != nil {
		return nil, errs.Wrapf(err, errs.SourceUnreachable, "list %s", t.source.Location())
	}

	present := make(map[string]struct{}, len(units))
	for _, u := range units {
		present[u.ID] = struct{}{}
	}
	for _, id := range cp.Units {
		if _, ok := present[id]; !ok {
			return nil, errs.Errorf(errs.CheckpointCorrupt,
				"checkpoint of %s references unit %q that no longer exists at %s", t.dataset, id, t.source.Location())
		}
	}

	var pending []datasource.Unit
	for _, u := range units {
		if !cp.Consumed(u.ID) {
			pending = append(pending, u)
		}
	}
	Order(pending)
	return pending, nil
}

// Order sorts units in place by arrival when determinable, else by id.
func Order(units []datasource.Unit) {
	byTime := true
	for _, u := range units {
		if u.ModTime.IsZero() {
			byTime = false
			break
		}
	}
	sort.SliceStable(units, func(i, j int) bool {
		if byTime && !units[i].ModTime.Equal(units[j].ModTime) {
			return units[i].ModTime.Before(units[j].ModTime)
		}
		return units[i].ID < units[j].ID
	})
}

// Advance describes one committed batch.
type Advance struct {
	Units []string
	// Schema is the evolved source schema after the batch.
	Schema       schema.Schema
	BatchID      string
	TableVersion int64
}

// RecordConsumed advances the checkpoint from cp to include adv. Recording
// units that are all already in the ledger is a no-op, also when cp is stale
// because an earlier call already advanced the store.
//
// A revision mismatch is a CommitConflict: someone else advanced the
// checkpoint since cp was loaded.
func (t *Tracker) RecordConsumed(ctx context.Context, cp *checkpoint.Checkpoint, adv Advance) (*checkpoint.Checkpoint, error) {
	if covers(cp, adv.Units) {
		return cp, nil
	}
	next := t.next(cp, adv)
	err := t.store.CompareAndSwap(ctx, t.dataset, cp.Revision, next)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, checkpoint.ErrRevisionMismatch) {
		return nil, errs.Wrapf(err, errs.CommitConflict, "advance checkpoint of %s", t.dataset)
	}
	current, lerr := t.Checkpoint(ctx)
	if lerr == nil && covers(current, adv.Units) {
		logging.FromContext(ctx).Infow("units already recorded", "dataset", t.dataset, "revision", current.Revision)
		return current, nil
	}
	return nil, errs.Wrapf(err, errs.CommitConflict, "advance checkpoint of %s from revision %d", t.dataset, cp.Revision)
}

func (t *Tracker) next(cp *checkpoint.Checkpoint, adv Advance) *checkpoint.Checkpoint {
	next := cp.Next(adv.Units)
	if adv.Schema.Len() > 0 {
		next.Schema = adv.Schema.Clone()
	}
	next.SchemaVersion = next.Schema.Fingerprint()
	if adv.TableVersion > next.TableVersion {
		next.TableVersion = adv.TableVersion
	}
	if adv.BatchID != "" {
		next.LastBatchID = adv.BatchID
	}
	next.UpdatedAt = t.now()
	return next
}

func covers(cp *checkpoint.Checkpoint, units []string) bool {
	if len(units) == 0 {
		return false
	}
	for _, u := range units {
		if !cp.Consumed(u) {
			return false
		}
	}
	return true
}

// Reconcile brings cp up to date with the destination. Commit markers newer
// than cp.TableVersion belong to batches whose checkpoint advance never
// happened (the process died between the two steps); their units are
// recorded now so they are not read again.
//
// A checkpoint claiming a table version the destination does not have is
// CheckpointCorrupt.
func (t *Tracker) Reconcile(ctx context.Context, cp *checkpoint.Checkpoint, table storage.Table) (*checkpoint.Checkpoint, error) {
	logger := logging.FromContext(ctx)

	v, err := table.Version(ctx)
	if err != nil {
		return nil, errs.Wrapf(err, errs.CommitConflict, "read version of %s", table.Name())
	}
	switch {
	case cp.TableVersion > v:
		return nil, errs.Errorf(errs.CheckpointCorrupt,
			"checkpoint of %s is at table version %d but %s is at %d", t.dataset, cp.TableVersion, table.Name(), v)
	case cp.TableVersion == v:
		return cp, nil
	}

	commits, err := table.Commits(ctx, cp.TableVersion)
	if err != nil {
		return nil, errs.Wrapf(err, errs.CommitConflict, "read commits of %s", table.Name())
	}
	if len(commits) == 0 {
		return cp, nil
	}

	next := cp
	for i, c := range commits {
		adv := Advance{Units: c.Units, Schema: c.SourceSchema, BatchID: c.BatchID, TableVersion: c.Version}
		if i == 0 {
			next = t.next(cp, adv)
		} else {
			// fold into the same revision
			folded := t.next(next, adv)
			folded.Revision = next.Revision
			next = folded
		}
		logger.Warnw("recovering unrecorded commit",
			"dataset", t.dataset,
			"version", c.Version,
			"batch_id", c.BatchID,
			"units", len(c.Units),
		)
	}
	if err := t.store.CompareAndSwap(ctx, t.dataset, cp.Revision, next); err != nil {
		if errors.Is(err, checkpoint.ErrRevisionMismatch) {
			return nil, errs.Wrapf(err, errs.CommitConflict, "reconcile checkpoint of %s", t.dataset)
		}
		return nil, errs.Wrapf(err, errs.CommitConflict, "store reconciled checkpoint of %s", t.dataset)
	}
	return next, nil
}

// Reset re-bases the checkpoint at version, the destination's current
// table version, with an empty ledger. The next run reads every unit again.
// A corrupt checkpoint is replaced as well.
func (t *Tracker) Reset(ctx context.Context, version int64) (*checkpoint.Checkpoint, error) {
	if err := t.store.Delete(ctx, t.dataset); err != nil {
		return nil, errs.Wrapf(err, errs.CheckpointCorrupt, "delete checkpoint of %s", t.dataset)
	}
	fresh := checkpoint.Empty(t.dataset)
	fresh.Revision = 1
	fresh.TableVersion = version
	fresh.SchemaVersion = fresh.Schema.Fingerprint()
	fresh.UpdatedAt = t.now()
	if err := t.store.CompareAndSwap(ctx, t.dataset, 0, fresh); err != nil {
		return nil, errs.Wrapf(err, errs.CommitConflict, "store reset checkpoint of %s", t.dataset)
	}
	return fresh, nil
}
