package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewResetCommand(opts *options) *cobra.Command {
	var yes bool

	command := &cobra.Command{
		Use:   "reset <dataset>",
		Short: "Forget which units a dataset consumed; the next run reads them all again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset of %s needs --yes", args[0])
			}
			ctx, pl, err := opts.open(cmd, "reset")
			if err != nil {
				return err
			}
			defer pl.Close()

			if err := pl.Reset(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checkpoint of %s reset\n", args[0])
			return nil
		},
	}
	command.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return command
}
