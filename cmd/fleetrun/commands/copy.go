package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/fleetrun/cmd/fleetrun/handlers"
)

// Copy returns the copy command.
func Copy() *cobra.Command {
	var (
		configPath string
		recursive  bool
	)

	cmd := &cobra.Command{
		Use:   "copy SRC DST",
		Short: "Copy a file or directory to every node",
		Long: `Copy distributes SRC to DST on every node. The orchestrator seeds the
first nodes and every node that received the file forwards it, so the copy
finishes in a logarithmic number of rounds.

SRC may be a local path or an s3:// URL, which is staged on the
orchestrator first.

Example:
  fleetrun copy -c cluster.yaml --recursive ./testdata /opt/testdata`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Copy(cmd.Context(), globals, configPath, args[0], args[1], recursive)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Copy a directory")

	return cmd
}
