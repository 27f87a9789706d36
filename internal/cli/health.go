package cli

import (
	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result HealthResult
			err := client.Get(cmd.Context(), "/health", &result)
			if result.Status != "" {
				NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			}
			return err
		},
	}
}
