// Package main is the entry point for the fleetrun CLI.
//
// fleetrun assembles a cluster of Linux machines from adopted hosts and
// cloud instances, makes every node trust every other node over SSH,
// distributes artifacts along a broadcast tree and runs test commands on
// all nodes at once.
//
// Commands: up, run, copy, check, destroy, version.
//
// For detailed usage information, run:
//
//	fleetrun --help
package main

import (
	"fmt"
	"os"

	"github.com/imamik/fleetrun/cmd/fleetrun/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
