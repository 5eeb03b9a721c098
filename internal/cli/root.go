// Package cli is the csvload command line: run a pipeline, lint its config,
// preview the inferred schema or describe the destination table.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"csvload/internal/config"
	"csvload/internal/logging"

	// every backend is selectable from config.
	_ "csvload/internal/storage/all"
)

// Version is set at build time.
var Version = "0.1.0"

// app carries what PersistentPreRunE resolved for the command being run.
type app struct {
	cfgFile string
	cfg     config.Pipeline
	log     *zap.Logger
}

// NewRootCmd builds the command tree. Without a subcommand it runs the
// pipeline.
func NewRootCmd() *cobra.Command {
	a := &app{log: zap.NewNop()}

	root := &cobra.Command{
		Use:   "csvload",
		Short: "Clean, validate, enrich and load a CSV file into a warehouse table",
		Long: `csvload reads a delimited file, applies the cleaning and validation rules
and calculated fields from its config, infers the destination schema and
loads the result into BigQuery, PostgreSQL, SQL Server, SQLite or DuckDB.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.log.Sync()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", config.DefaultPath, "pipeline config file (JSON or YAML)")
	pf.String("csv-file", "", "input file, URL or - for stdin (overrides extraction.csv_file)")
	pf.String("project-id", "", "BigQuery project (overrides loading.project_id)")
	pf.String("dataset-id", "", "destination dataset or schema (overrides loading.dataset_id)")
	pf.String("table-id", "", "destination table (overrides loading.table_id)")
	pf.String("write-disposition", "", "replace, append or fail-if-present (BigQuery names accepted)")
	pf.String("backend", "", "bigquery, postgres, mssql, sqlite or duckdb")
	pf.String("dsn", "", "connection string for SQL backends")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.Bool("dry-run", false, "stop before loading")

	_ = root.RegisterFlagCompletionFunc("write-disposition", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"replace", "append", "fail-if-present"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = root.RegisterFlagCompletionFunc("backend", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"bigquery", "postgres", "mssql", "sqlite", "duckdb"}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(
		newRunCommand(a),
		newValidateCommand(a),
		newSchemaCommand(a),
		newDescribeCommand(a),
	)
	return root
}

// load reads the config and builds the logger.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile, cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, path, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Dir: cfg.LogDir})
	if err != nil {
		return err
	}
	a.log = log.With(zap.String("job", cfg.Job))
	if path != "" {
		a.log.Debug("logging to file", zap.String("path", path))
	}
	return nil
}

// Execute runs the root command with ctx and prints a failure to stderr.
func Execute(ctx context.Context) error {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
