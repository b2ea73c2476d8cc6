package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/imamik/fleetrun/cmd/fleetrun/handlers"
)

// Run returns the run command.
func Run() *cobra.Command {
	var (
		configPath string
		opts       handlers.RunOptions
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- COMMAND [ARGS...]",
		Short: "Run a test command on every node",
		Long: `Run executes a shell command on all nodes in parallel and collects one
log per node under --log-dir/<address>/<package>-<name>.log.

A node fails when its command exits non-zero. Transport failures are
recorded with exit code 255.

Example:
  fleetrun run -c cluster.yaml --name smoke -- ./run-tests.sh --quick`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Command = strings.Join(args, " ")
			return handlers.Run(cmd.Context(), globals, configPath, opts)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&opts.Name, "name", "test", "Test case name")
	cmd.Flags().StringVar(&opts.Package, "package", "fleetrun", "Package the test case belongs to")
	cmd.Flags().BoolVar(&opts.Root, "root", false, "Run the command as root")
	cmd.Flags().StringVar(&opts.LogDir, "log-dir", "logs", "Directory for per-node logs")
	cmd.Flags().StringVar(&opts.PublishURL, "publish", "", "s3:// prefix to upload logs to")

	return cmd
}
