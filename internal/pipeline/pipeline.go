// Package pipeline wires the per-dataset components together and runs
// datasets, alone or concurrently. Datasets share nothing but the
// checkpoint store; a failure in one never affects another.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"silverload/internal/checkpoint"
	"silverload/internal/commit"
	"silverload/internal/config"
	"silverload/internal/datasource"
	"silverload/internal/errs"
	"silverload/internal/logging"
	"silverload/internal/parser"
	"silverload/internal/reader"
	"silverload/internal/storage"
	"silverload/internal/tracker"
	"silverload/internal/transformer"

	// every source and destination kind a config may name
	_ "silverload/internal/datasource/file"
	_ "silverload/internal/datasource/s3src"
	_ "silverload/internal/storage/all"
)

// Pipeline holds the opened datasets of one project.
type Pipeline struct {
	job       string
	store     checkpoint.Store
	ownStore  bool
	order     []string
	datasets  map[string]*dataset
	limit     int
	afterHook commit.Hook
}

// dataset is everything needed to run one dataset. mu guards runs and
// resets; a second run while one is active is rejected, not queued.
type dataset struct {
	cfg     config.Dataset
	source  datasource.Store
	table   storage.Table
	tracker *tracker.Tracker
	reader  *reader.Reader
	chain   transformer.Chain
	writer  *commit.Writer

	mu sync.Mutex
}

// Option configures Open.
type Option func(*Pipeline)

// WithCheckpointStore uses store instead of the one the project config
// names. The caller keeps ownership; Close does not close it.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(p *Pipeline) {
		p.store = store
		p.ownStore = false
	}
}

// WithParallelism bounds how many datasets RunAll runs at once. Zero or
// less means all of them.
func WithParallelism(n int) Option {
	return func(p *Pipeline) { p.limit = n }
}

// WithAfterAppend installs a hook that runs between the table append and
// the checkpoint advance of every commit.
func WithAfterAppend(h commit.Hook) Option {
	return func(p *Pipeline) { p.afterHook = h }
}

// Open builds every dataset of project. project must have defaults applied
// and be valid (config.Load does both).
func Open(ctx context.Context, project config.Project, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		job:      project.Job,
		datasets: make(map[string]*dataset, len(project.Datasets)),
	}
	for _, o := range opts {
		o(p)
	}
	if p.store == nil {
		store, err := OpenCheckpointStore(project.Checkpoint)
		if err != nil {
			return nil, err
		}
		p.store = store
		p.ownStore = true
	}

	logger := logging.FromContext(ctx)
	for _, dc := range project.Datasets {
		d, err := p.openDataset(ctx, dc)
		if err != nil {
			return nil, multierr.Append(err, p.Close())
		}
		p.datasets[dc.Name] = d
		p.order = append(p.order, dc.Name)
		logger.Debugw("dataset opened", "dataset", dc.Summary())
	}
	return p, nil
}

func (p *Pipeline) openDataset(ctx context.Context, dc config.Dataset) (*dataset, error) {
	src, err := datasource.New(ctx, dc.Source)
	if err != nil {
		return nil, errs.Wrapf(err, errs.SourceUnreachable, "%s: open source", dc.Name)
	}
	prs, err := parser.New(dc.Source.Format, dc.Source.Options)
	if err != nil {
		return nil, errs.Wrapf(err, errs.ConfigInvalid, "%s: parser", dc.Name)
	}
	chain, err := transformer.FromSteps(dc.Transform, dc.Keys)
	if err != nil {
		return nil, errs.Wrapf(err, errs.ConfigInvalid, "%s", dc.Name)
	}
	table, err := storage.New(ctx, storage.Config{
		Kind:      dc.Destination.Kind,
		DSN:       dc.Destination.DSN,
		Table:     dc.Destination.Table,
		BatchSize: dc.Destination.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: open destination: %w", dc.Name, err)
	}

	tr := tracker.New(dc.Name, src, p.store)
	w := commit.NewWriter(table, tr, dc.Keys)
	w.AfterAppend = p.afterHook
	return &dataset{
		cfg:     dc,
		source:  src,
		table:   table,
		tracker: tr,
		reader:  reader.New(dc.Name, src, prs),
		chain:   chain,
		writer:  w,
	}, nil
}

// Names returns the dataset names in config order.
func (p *Pipeline) Names() []string { return append([]string(nil), p.order...) }

func (p *Pipeline) lookup(name string) (*dataset, error) {
	d, ok := p.datasets[name]
	if !ok {
		return nil, errs.Errorf(errs.ConfigInvalid, "unknown dataset %q", name)
	}
	return d, nil
}

// Close releases every table and, unless it was supplied by the caller,
// the checkpoint store.
func (p *Pipeline) Close() error {
	var err error
	for _, name := range p.order {
		err = multierr.Append(err, p.datasets[name].table.Close())
	}
	if p.ownStore && p.store != nil {
		err = multierr.Append(err, p.store.Close())
	}
	return err
}
