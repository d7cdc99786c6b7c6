package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/spf13/cobra"

	"silverload/internal/batch"
)

// nullValue stands in for nil cells; go-pretty does not render nil.
const nullValue = "NULL"

func NewPreviewCommand(opts *options) *cobra.Command {
	var limit int

	command := &cobra.Command{
		Use:   "preview <dataset>",
		Short: "Show the transformed pending backlog without committing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, pl, err := opts.open(cmd, "preview")
			if err != nil {
				return err
			}
			defer pl.Close()

			b, err := pl.Preview(ctx, args[0], limit)
			if err != nil {
				return err
			}
			writePreview(cmd.OutOrStdout(), b)
			return nil
		},
	}
	command.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows to show (0 = all)")
	return command
}

func writePreview(w io.Writer, b *batch.Batch) {
	names := b.Schema.Names()
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Format.Header = text.FormatDefault

	header := make(table.Row, len(names))
	for i, n := range names {
		header[i] = n
	}
	t.AppendHeader(header)
	for _, r := range b.Records {
		row := make(table.Row, len(names))
		for i, n := range names {
			if v := r[n]; v != nil {
				row[i] = v
			} else {
				row[i] = nullValue
			}
		}
		t.AppendRow(row)
	}
	t.Render()
	fmt.Fprintf(w, "%d units, %d rows shown, %d rescued\n", len(b.Units), len(b.Records), b.Rescued)
}
