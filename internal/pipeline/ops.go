package pipeline

import (
	"context"
	"time"

	"silverload/internal/batch"
	"silverload/internal/errs"
	"silverload/internal/logging"
)

// Preview reads and transforms the dataset's pending backlog without
// committing anything: the checkpoint and the destination are only read.
// At most limit records are returned; limit <= 0 returns all of them.
func (p *Pipeline) Preview(ctx context.Context, name string, limit int) (*batch.Batch, error) {
	d, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	cp, err := d.tracker.Checkpoint(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := d.tracker.ListUnprocessed(ctx, cp)
	if err != nil {
		return nil, err
	}
	read, err := d.reader.Read(ctx, cp.Schema, pending)
	if err != nil {
		return nil, err
	}
	out := d.chain.ApplyBatch(read)
	if limit > 0 && out.Len() > limit {
		out.Records = out.Records[:limit]
	}
	return out, nil
}

// Status describes where a dataset stands.
type Status struct {
	Dataset string
	Table   string

	Revision      int64
	ConsumedUnits int
	PendingUnits  int
	// CheckpointVersion is the table version the checkpoint has seen;
	// TableVersion is the destination's. They differ after a commit whose
	// checkpoint advance was lost, until the next run reconciles.
	CheckpointVersion int64
	TableVersion      int64
	LastBatchID       string
	UpdatedAt         time.Time
	Columns           int

	Err error
}

// Status reports every dataset. A dataset that cannot be inspected carries
// its error in Status.Err; the call itself only fails on a canceled context.
func (p *Pipeline) Status(ctx context.Context) ([]Status, error) {
	out := make([]Status, 0, len(p.order))
	for _, name := range p.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, p.status(ctx, p.datasets[name]))
	}
	return out, nil
}

func (p *Pipeline) status(ctx context.Context, d *dataset) Status {
	st := Status{Dataset: d.cfg.Name, Table: d.table.Name()}

	v, err := d.table.Version(ctx)
	if err != nil {
		st.Err = err
		return st
	}
	st.TableVersion = v

	cp, err := d.tracker.Checkpoint(ctx)
	if err != nil {
		st.Err = err
		return st
	}
	st.Revision = cp.Revision
	st.ConsumedUnits = len(cp.Units)
	st.CheckpointVersion = cp.TableVersion
	st.LastBatchID = cp.LastBatchID
	st.UpdatedAt = cp.UpdatedAt
	st.Columns = cp.Schema.Len()

	pending, err := d.tracker.ListUnprocessed(ctx, cp)
	if err != nil {
		st.Err = err
		return st
	}
	st.PendingUnits = len(pending)
	return st
}

// Reset forgets which units the dataset consumed. The destination table is
// left alone; the next run reads every unit again and, for keyed datasets,
// replaces the rows it already holds.
func (p *Pipeline) Reset(ctx context.Context, name string) error {
	d, err := p.lookup(name)
	if err != nil {
		return err
	}
	if !d.mu.TryLock() {
		return errs.Errorf(errs.RunAlreadyInProgress, "a run of %s is in progress", name)
	}
	defer d.mu.Unlock()

	v, err := d.table.Version(ctx)
	if err != nil {
		return errs.Wrapf(err, errs.CommitConflict, "read version of %s", d.table.Name())
	}
	cp, err := d.tracker.Reset(ctx, v)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Warnw("checkpoint reset", "dataset", name, "table_version", cp.TableVersion)
	return nil
}
