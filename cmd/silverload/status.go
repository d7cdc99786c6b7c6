package main

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/spf13/cobra"

	"silverload/internal/pipeline"
)

func NewStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show checkpoint and destination state of every dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, pl, err := opts.open(cmd, "status")
			if err != nil {
				return err
			}
			defer pl.Close()

			st, err := pl.Status(ctx)
			if err != nil {
				return err
			}
			writeStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func writeStatus(w io.Writer, st []pipeline.Status) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"dataset", "table", "revision", "consumed", "pending", "checkpoint version", "table version", "updated", "error"})
	for _, s := range st {
		updated := ""
		if !s.UpdatedAt.IsZero() {
			updated = s.UpdatedAt.Format(time.RFC3339)
		}
		errText := ""
		if s.Err != nil {
			errText = s.Err.Error()
		}
		t.AppendRow(table.Row{
			s.Dataset, s.Table, s.Revision, s.ConsumedUnits, s.PendingUnits,
			s.CheckpointVersion, s.TableVersion, updated, errText,
		})
	}
	t.Render()
}
