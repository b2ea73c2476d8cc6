package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/fleetrun/cmd/fleetrun/handlers"
)

// Destroy returns the destroy command.
func Destroy() *cobra.Command {
	var (
		configPath string
		opts       handlers.DestroyOptions
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Terminate the cluster's cloud instances",
		Long: `Destroy terminates every instance recorded in the instance log,
releases the cluster's external addresses and removes its registered key.
Adopted hosts are never touched.

The instance log is cleared only when every instance is gone, so a failed
destroy can be repeated.

Example:
  fleetrun destroy -c cluster.yaml

WARNING: Terminated instances and their disks cannot be recovered.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Destroy(cmd.Context(), globals, configPath, opts)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&opts.FromList, "from-list", "", "Terminate the addresses in this file instead of the instance log")
	cmd.Flags().BoolVar(&opts.Stop, "stop", false, "Stop the instances instead of terminating them")

	return cmd
}
