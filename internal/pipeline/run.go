package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"silverload/internal/batch"
	"silverload/internal/checkpoint"
	"silverload/internal/commit"
	"silverload/internal/datasource"
	"silverload/internal/errs"
	"silverload/internal/logging"
	"silverload/internal/metrics"
)

// Report summarizes one dataset run.
type Report struct {
	Dataset string
	RunID   string

	// Units is how many input units were committed by this run.
	Units   int
	Batches int

	Read         int64
	Rescued      int64
	Deduplicated int64
	Committed    int64

	// Duplicates counts batches the table already held.
	Duplicates int

	TableVersion int64
	Revision     int64
	Duration     time.Duration
	Err          error
}

// Run processes the dataset's backlog as observed at the start of the run
// and returns when it is committed. An empty backlog is a successful run
// that changes nothing.
//
// Only one run per dataset may be active in a process; a concurrent call
// fails fast with RunAlreadyInProgress.
func (p *Pipeline) Run(ctx context.Context, name string) (Report, error) {
	rep := Report{Dataset: name, RunID: uuid.NewString()}
	d, err := p.lookup(name)
	if err != nil {
		rep.Err = err
		return rep, err
	}
	if !d.mu.TryLock() {
		err := errs.Errorf(errs.RunAlreadyInProgress, "a run of %s is already in progress", name)
		rep.Err = err
		return rep, err
	}
	defer d.mu.Unlock()

	logger := logging.FromContext(ctx).With("dataset", name, "run_id", rep.RunID)
	ctx = logging.WithLogger(ctx, logger)

	start := time.Now()
	err = p.run(ctx, d, &rep)
	rep.Duration = time.Since(start)
	rep.Err = err
	metrics.RecordStep(p.job, name, "run", err, rep.Duration)
	if err != nil {
		logger.Errorw("run failed", "code", errs.CodeOf(err), "retryable", errs.Retryable(err), "error", err)
		return rep, err
	}
	logger.Infow("run finished",
		"units", rep.Units,
		"batches", rep.Batches,
		"committed", rep.Committed,
		"table_version", rep.TableVersion,
		"duration", rep.Duration.Truncate(time.Millisecond),
	)
	return rep, nil
}

// step times fn under the given step label.
func (p *Pipeline) step(d *dataset, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(p.job, d.cfg.Name, name, err, time.Since(start))
	return err
}

func (p *Pipeline) run(ctx context.Context, d *dataset, rep *Report) error {
	logger := logging.FromContext(ctx)
	job := p.job

	var cp *checkpoint.Checkpoint
	err := p.step(d, "reconcile", func() error {
		loaded, err := d.tracker.Checkpoint(ctx)
		if err != nil {
			return err
		}
		cp, err = d.tracker.Reconcile(ctx, loaded, d.table)
		return err
	})
	if err != nil {
		return err
	}
	rep.Revision, rep.TableVersion = cp.Revision, cp.TableVersion

	var pending []datasource.Unit
	if err := p.step(d, "list", func() error {
		var err error
		pending, err = d.tracker.ListUnprocessed(ctx, cp)
		return err
	}); err != nil {
		return err
	}
	if len(pending) == 0 {
		logger.Infow("no new units")
		return nil
	}
	logger.Infow("backlog", "units", len(pending))

	for _, chunk := range chunks(pending, d.cfg.MaxUnitsPerRun) {
		if err := ctx.Err(); err != nil {
			return err
		}

		var read, out *batch.Batch
		if err := p.step(d, "read", func() error {
			var err error
			read, err = d.reader.Read(ctx, cp.Schema, chunk)
			return err
		}); err != nil {
			return err
		}
		start := time.Now()
		out = d.chain.ApplyBatch(read)
		metrics.RecordStep(job, d.cfg.Name, "transform", nil, time.Since(start))

		var res commit.Result
		if err := p.step(d, "commit", func() error {
			var err error
			res, err = d.writer.Commit(ctx, cp, out)
			return err
		}); err != nil {
			return err
		}
		cp = res.Checkpoint

		dropped := int64(read.Len() - out.Len())
		rep.Units += len(chunk)
		rep.Batches++
		rep.Read += int64(read.Len())
		rep.Rescued += int64(read.Rescued)
		rep.Deduplicated += dropped
		rep.Committed += res.Rows
		if res.Duplicate {
			rep.Duplicates++
		}
		rep.Revision, rep.TableVersion = cp.Revision, cp.TableVersion

		metrics.RecordRow(job, d.cfg.Name, "read", int64(read.Len()))
		metrics.RecordRow(job, d.cfg.Name, "rescued", int64(read.Rescued))
		metrics.RecordRow(job, d.cfg.Name, "deduplicated", dropped)
		metrics.RecordRow(job, d.cfg.Name, "committed", res.Rows)
		metrics.RecordBatches(job, d.cfg.Name, 1)
	}
	return nil
}

// chunks splits units into runs of at most n. n <= 0 means one chunk.
func chunks(units []datasource.Unit, n int) [][]datasource.Unit {
	if n <= 0 || n >= len(units) {
		return [][]datasource.Unit{units}
	}
	var out [][]datasource.Unit
	for len(units) > 0 {
		k := n
		if k > len(units) {
			k = len(units)
		}
		out = append(out, units[:k])
		units = units[k:]
	}
	return out
}

// RunAll runs the named datasets (all of them when names is empty)
// concurrently. Every dataset runs to completion regardless of the others;
// the returned error combines all failures and the reports are in the
// order of names.
func (p *Pipeline) RunAll(ctx context.Context, names ...string) ([]Report, error) {
	if len(names) == 0 {
		names = p.order
	}
	reports := make([]Report, len(names))

	var (
		mu     sync.Mutex
		result error
	)
	var g errgroup.Group
	if p.limit > 0 {
		g.SetLimit(p.limit)
	}
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			rep, err := p.Run(ctx, name)
			reports[i] = rep
			if err != nil {
				mu.Lock()
				result = multierr.Append(result, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports, result
}
