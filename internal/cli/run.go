package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"csvload/internal/config"
	"csvload/internal/metrics"
	"csvload/internal/metrics/datadog"
	"csvload/internal/metrics/prompush"
	"csvload/internal/pipeline"
)

func newRunCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline: extract, clean, enrich, infer and load",
		Example: `  csvload run -c config/etl_config.json
  csvload run --csv-file data/customers.csv --table-id customers_2024 --write-disposition append
  csvload run --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd)
		},
	}
}

func (a *app) run(cmd *cobra.Command) error {
	flush := setupMetrics(a.cfg.Metrics, a.cfg.Job, a.log)
	defer flush()

	rep, err := pipeline.Run(cmd.Context(), a.cfg, pipeline.Deps{Log: a.log})
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), rep.Summary())
	return nil
}

// setupMetrics installs the configured metrics backend and returns the
// function that flushes it. A backend that cannot start is logged and the
// run continues without metrics.
func setupMetrics(m config.Metrics, job string, log *zap.Logger) func() {
	var (
		b   metrics.Backend
		err error
	)
	switch strings.ToLower(strings.TrimSpace(m.Backend)) {
	case "", "none":
		return func() {}
	case "prom":
		b, err = prompush.NewBackend(job, m.PromPushURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{Addr: m.DatadogAddr, GlobalTags: []string{"service:csvload"}})
	default:
		err = fmt.Errorf("unknown metrics backend %q", m.Backend)
	}
	if err != nil {
		log.Warn("metrics disabled", zap.Error(err))
		return func() {}
	}
	metrics.SetBackend(b)
	log.Debug("metrics enabled", zap.String("backend", m.Backend))
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics flush", zap.Error(err))
		}
		metrics.Reset()
	}
}
