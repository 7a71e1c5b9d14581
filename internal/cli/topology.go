package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewTopologyCmd declares the broker's stream topology and exits, for use
// in deploy-time bootstrap steps ahead of the first serve/submit.
func NewTopologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Declare the broker stream topology and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := initLogging(cmd, "reciperecon-topology")
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			gw, err := connectGateway(ctx, logger)
			if err != nil {
				return err
			}
			defer gw.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "topology declared")
			return nil
		},
	}
}
