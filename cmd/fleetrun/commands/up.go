package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/fleetrun/cmd/fleetrun/handlers"
)

// Up returns the up command.
func Up() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Assemble the cluster and prepare every node for testing",
		Long: `Up adopts the configured hosts, provisions cloud instances when the
cluster has a backend, and prepares all nodes for testing:

  - Instances are polled until running and probed until SSH answers
  - Instances that never become reachable are terminated
  - Every node trusts every other node over SSH
  - /etc/hosts lists all nodes on every node
  - Node-to-node connectivity is verified
  - Configured artifacts are copied along a broadcast tree

Provisioned addresses are persisted so later commands, and destroy, find
the instances again.

Example:
  fleetrun up -c cluster.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Up(cmd.Context(), globals, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)

	return cmd
}
