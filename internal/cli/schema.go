package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"csvload/internal/pipeline"
)

func newSchemaCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the destination schema the pipeline would load, without loading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			cfg.Runtime.DryRun = true
			rep, err := pipeline.Run(cmd.Context(), cfg, pipeline.Deps{Log: a.log})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTYPE\tMODE")
			for _, f := range rep.Schema.Fields {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Name, f.Type, f.Mode())
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d rows, data quality %.2f%%\n", rep.Table.Len(), rep.DataQualityScore)
			return nil
		},
	}
}
