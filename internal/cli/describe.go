package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"csvload/internal/pipeline"
	"csvload/internal/storage"
)

func newDescribeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Show the destination table: existence, row count and fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			l := a.cfg.Loading
			wh, err := storage.Open(ctx, pipeline.StorageConfig(l, a.log))
			if err != nil {
				return err
			}
			defer wh.Close()

			dest := pipeline.Destination(l)
			// SQLite namespaces are only visible once attached.
			if err := wh.EnsureNamespace(ctx, dest); err != nil {
				return err
			}
			co := storage.NewCoordinator(wh, pipeline.RetryPolicy(l.Retry), a.log.Named("describe"))
			info, err := co.Describe(ctx, dest)
			if err != nil {
				return err
			}
			printTableInfo(cmd, dest, info)
			return nil
		},
	}
}

func printTableInfo(cmd *cobra.Command, dest storage.Destination, info storage.TableInfo) {
	out := cmd.OutOrStdout()
	if !info.Exists {
		fmt.Fprintf(out, "%s does not exist\n", dest)
		return
	}
	fmt.Fprintf(out, "table:    %s\n", dest)
	fmt.Fprintf(out, "rows:     %d\n", info.Rows)
	if info.Bytes > 0 {
		fmt.Fprintf(out, "bytes:    %d\n", info.Bytes)
	}
	if !info.Created.IsZero() {
		fmt.Fprintf(out, "created:  %s\n", info.Created.UTC().Format(time.RFC3339))
	}
	if !info.Modified.IsZero() {
		fmt.Fprintf(out, "modified: %s\n", info.Modified.UTC().Format(time.RFC3339))
	}
	if info.Description != "" {
		fmt.Fprintf(out, "about:    %s\n", info.Description)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tMODE")
	for _, f := range info.Schema.Fields {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Name, f.Type, f.Mode())
	}
	_ = tw.Flush()
}
