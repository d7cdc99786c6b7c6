package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/spf13/cobra"

	"silverload/internal/errs"
	"silverload/internal/logging"
	"silverload/internal/pipeline"
)

func NewRunCommand(opts *options) *cobra.Command {
	var parallelism int

	command := &cobra.Command{
		Use:   "run [dataset...]",
		Short: "Ingest the pending backlog of every (or the named) dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			for _, name := range args {
				if _, ok := p.Dataset(name); !ok {
					return errs.Errorf(errs.ConfigInvalid, "unknown dataset %q", name)
				}
			}
			logger := logging.NewLogger().Named("run").With("job", p.Job)
			ctx := logging.WithLogger(cmd.Context(), logger)

			flush := setupMetrics(logger, p.Job, p.Metrics)
			defer flush()

			pl, err := pipeline.Open(ctx, p, pipeline.WithParallelism(parallelism))
			if err != nil {
				return err
			}
			defer pl.Close()

			reports, err := pl.RunAll(ctx, args...)
			writeReports(cmd.OutOrStdout(), reports)
			return err
		},
	}
	command.Flags().IntVarP(&parallelism, "parallelism", "p", 0, "datasets run at once (0 = all)")
	return command
}

func writeReports(w io.Writer, reports []pipeline.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Dataset", "Units", "Batches", "Read", "Rescued", "Deduplicated", "Committed", "Version", "Duration", "Result"})
	for _, r := range reports {
		result := "ok"
		if r.Err != nil {
			result = string(errs.CodeOf(r.Err))
			if result == "" {
				result = "error"
			}
		}
		t.AppendRow(table.Row{
			r.Dataset, r.Units, r.Batches, r.Read, r.Rescued, r.Deduplicated, r.Committed,
			r.TableVersion, r.Duration.Truncate(time.Millisecond), result,
		})
	}
	t.Render()
	for _, r := range reports {
		if r.Err != nil {
			fmt.Fprintf(w, "%s: %v\n", r.Dataset, r.Err)
		}
	}
}
