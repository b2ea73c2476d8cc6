package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/imamik/fleetrun/internal/cluster"
	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/node"
	"github.com/imamik/fleetrun/internal/util/naming"
)

// exitTransport is the exit code recorded when a test command could not be
// run at all.
const exitTransport = 255

// RunOptions describe a test command run on every node.
type RunOptions struct {
	Package string
	Name    string
	Command string
	// Root runs the command as root instead of the login user.
	Root bool
	// LogDir receives one directory of logs per node.
	LogDir string
	// PublishURL is an s3:// prefix the logs are uploaded under.
	PublishURL string
}

// Run runs a test command on every node of an established cluster and
// writes a log per node. It fails when any node's command exits non-zero.
func Run(ctx context.Context, g Globals, configPath string, opts RunOptions) error {
	if opts.Command == "" {
		return fault.New(fault.Configuration, "no command to run")
	}
	s, err := openSession(ctx, g, configPath)
	if err != nil {
		return err
	}
	defer s.Close()

	var stager Stager
	if opts.PublishURL != "" {
		if stager, err = newStager(s.cfg, s.creds); err != nil {
			return err
		}
	}
	if err := s.load(ctx); err != nil {
		return err
	}

	tc := cluster.TestCase{Package: opts.Package, Name: opts.Name, Func: shellTest(opts.Command, opts.Root)}
	report := s.cluster.FanOut(ctx, s.cluster.Snapshot(), "test "+opts.Name, func(ctx context.Context, n *node.Node) error {
		dir := filepath.Join(opts.LogDir, n.Address)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
		rc := s.cluster.RunTestCase(ctx, n, tc, dir)
		if stager != nil {
			log := filepath.Join(dir, naming.TestLog(opts.Package, opts.Name))
			url, err := stager.Publish(ctx, log, strings.TrimSuffix(opts.PublishURL, "/")+"/"+n.Address+"/")
			if err != nil {
				return err
			}
			s.log.V(1).Info("published test log", "node", n.Address, "url", url)
		}
		if rc != 0 {
			return fmt.Errorf("%s exited %d", opts.Name, rc)
		}
		return nil
	})
	if err := cluster.PrintReport(stdout, report); err != nil {
		return err
	}
	return report.Err()
}

// shellTest returns a test that runs command and reports its exit code.
func shellTest(command string, root bool) func(context.Context, *node.Node, *cluster.Output) int {
	return func(ctx context.Context, n *node.Node, out *cluster.Output) int {
		run := n.Run
		if root {
			run = n.RunAsRoot
		}
		res, err := run(ctx, command)
		out.Record(res)
		if out.Command == "" {
			out.Command = command
		}
		if err != nil {
			out.Stderr.WriteString(err.Error() + "\n")
			return exitTransport
		}
		return res.ExitCode
	}
}
