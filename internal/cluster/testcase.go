package cluster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/imamik/fleetrun/internal/node"
	"github.com/imamik/fleetrun/internal/util/naming"
)

// LogWriteFailed is the exit code recorded when a test log cannot be written.
const LogWriteFailed = -999

// Output collects what a test case ran and printed.
type Output struct {
	Command string
	Stdout  strings.Builder
	Stderr  strings.Builder
}

// Record captures a command result into the output.
func (o *Output) Record(res node.Result) {
	o.Command = res.CommandLine
	o.Stdout.WriteString(res.Stdout)
	o.Stderr.WriteString(res.Stderr)
}

// TestCase is a test run against one node. Func returns the exit code of
// the test.
type TestCase struct {
	Package string
	Name    string
	Func    func(ctx context.Context, n *node.Node, out *Output) int
}

// RunTestCase runs tc on n and writes <package>-<name>.log into logDir.
// It returns the test's exit code, or LogWriteFailed when the log could not
// be written. A panicking test counts as exit code 1.
func (c *Cluster) RunTestCase(ctx context.Context, n *node.Node, tc TestCase, logDir string) int {
	var out Output
	rc := runGuarded(ctx, n, tc, &out)

	path := filepath.Join(logDir, naming.TestLog(tc.Package, tc.Name))
	content := fmt.Sprintf("COMMAND: %s\nRC: %d\nSTDOUT:\n%s\nSTDERR:\n%s\n",
		out.Command, rc, out.Stdout.String(), out.Stderr.String())
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		c.log.Error(err, "failed to write test log", "test", tc.Name, "path", path)
		return LogWriteFailed
	}

	c.log.Info("test finished", "package", tc.Package, "test", tc.Name, "node", n.Address, "rc", rc)
	return rc
}

func runGuarded(ctx context.Context, n *node.Node, tc TestCase, out *Output) (rc int) {
	defer func() {
		if r := recover(); r != nil {
			out.Stderr.WriteString(fmt.Sprintf("panic: %v\n", r))
			rc = 1
		}
	}()
	return tc.Func(ctx, n, out)
}
