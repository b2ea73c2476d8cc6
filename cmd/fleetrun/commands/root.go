// Package commands defines the CLI command structure and flag bindings.
//
// Commands parse arguments and flags; execution is delegated to handler
// functions in the handlers package.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/fleetrun/cmd/fleetrun/handlers"
)

// globals is bound to the root command's persistent flags.
var globals handlers.Globals

// Root returns the root command for the fleetrun CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fleetrun",
		Short:         "Run tests across a cluster of Linux machines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().IntVarP(&globals.Verbosity, "verbosity", "v", 0, "Log verbosity (0 info, 1 debug, 2 trace)")
	cmd.PersistentFlags().StringVar(&globals.LogFormat, "log-format", "auto", "Log format: auto, console or json")
	cmd.PersistentFlags().StringVar(&globals.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")

	cmd.AddCommand(Up())
	cmd.AddCommand(Run())
	cmd.AddCommand(Copy())
	cmd.AddCommand(Check())
	cmd.AddCommand(Destroy())
	cmd.AddCommand(Version())

	return cmd
}

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", "", "Path to cluster configuration file (required)")
	_ = cmd.MarkFlagRequired("config")
}
