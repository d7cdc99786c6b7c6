package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"silverload/internal/config"
	"silverload/internal/errs"
	"silverload/internal/logging"
	"silverload/internal/pipeline"
)

const defaultConfigPath = "configs/spotify.yaml"

// options are the flags shared by every subcommand.
type options struct {
	configPath     string
	metricsBackend string
	pushgatewayURL string
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	command := &cobra.Command{
		Use:           "silverload",
		Short:         "Incremental bronze to silver ingestion",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	command.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "project file (YAML or JSON)")
	command.PersistentFlags().StringVar(&opts.metricsBackend, "metrics-backend", "", "metrics backend: prometheus, datadog or none (overrides config and env)")
	command.PersistentFlags().StringVar(&opts.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides config and env)")

	command.AddCommand(
		NewRunCommand(opts),
		NewValidateCommand(opts),
		NewStatusCommand(opts),
		NewResetCommand(opts),
		NewPreviewCommand(opts),
	)
	return command
}

// load reads and validates the project, printing warnings to w.
func (o *options) load(w io.Writer) (config.Project, error) {
	p, issues, err := config.Load(o.configPath)
	for _, iss := range issues {
		if iss.Severity == config.SeverityWarning {
			fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		}
	}
	if err != nil {
		return config.Project{}, err
	}
	if o.metricsBackend != "" {
		p.Metrics.Backend = o.metricsBackend
	}
	if o.pushgatewayURL != "" {
		p.Metrics.PushgatewayURL = o.pushgatewayURL
	}
	return p, nil
}

// open loads the project and opens its pipeline with a logger attached to
// the returned context.
func (o *options) open(cmd *cobra.Command, name string) (context.Context, *pipeline.Pipeline, error) {
	p, err := o.load(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewLogger().Named(name).With("job", p.Job)
	ctx := logging.WithLogger(cmd.Context(), logger)
	pl, err := pipeline.Open(ctx, p)
	if err != nil {
		logger.Errorw("failed to open pipeline", zap.Error(err))
		return nil, nil, err
	}
	return ctx, pl, nil
}

// exitCode maps failures to process exit codes so schedulers can tell a
// retryable failure (75, EX_TEMPFAIL) from one that needs an operator.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errs.Is(err, errs.ConfigInvalid):
		return 78
	case errs.Retryable(err):
		return 75
	}
	return 1
}
