package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"csvload/internal/config"
)

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Lint the config and exit non-zero on errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			issues := config.ValidatePipeline(a.cfg)
			for _, iss := range issues {
				fmt.Fprintf(out, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			}
			if err := config.Err(issues); err != nil {
				return fmt.Errorf("configuration %s is invalid: %w", a.cfgFile, err)
			}
			fmt.Fprintf(out, "configuration %s is valid\n", a.cfgFile)
			return nil
		},
	}
}
