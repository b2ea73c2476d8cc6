package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/fleetrun/cmd/fleetrun/handlers"
)

// Check returns the check command.
func Check() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify connectivity of an assembled cluster",
		Long: `Check lists the cluster's nodes and verifies that the orchestrator
reaches every node and that every node reaches every other node.

Example:
  fleetrun check -c cluster.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Check(cmd.Context(), globals, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)

	return cmd
}
