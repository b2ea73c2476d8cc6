package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imamik/fleetrun/internal/metrics"
	"github.com/imamik/fleetrun/internal/node"
	"github.com/imamik/fleetrun/internal/util/async"
)

// Op is an operation over a single node.
type Op func(ctx context.Context, n *node.Node) error

// Outcome is the result of an Op on one node.
type Outcome struct {
	Node     *node.Node
	Err      error
	Duration time.Duration
}

// Report collects the outcomes of one fan-out, in NodeSet order.
type Report struct {
	Operation string
	Outcomes  []Outcome
	Duration  time.Duration
}

// Failures returns how many nodes failed.
func (r Report) Failures() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Failed returns the outcomes that carry an error.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Err joins every per-node error, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, o := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", o.Node, o.Err))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s failed on %d of %d nodes: %w", r.Operation, len(errs), len(r.Outcomes), errors.Join(errs...))
}

// FanOut runs op on every node of set concurrently, one goroutine per node,
// and returns once all of them have finished. Errors and panics are
// recorded against their node and never cancel the other workers.
func (c *Cluster) FanOut(ctx context.Context, set NodeSet, name string, op Op) Report {
	start := time.Now()
	tasks := make([]async.Task, set.Len())
	for i, n := range set.nodes {
		tasks[i] = async.Task{
			Name: n.Address,
			Func: func(ctx context.Context) error { return op(ctx, n) },
		}
	}

	results := async.RunAll(ctx, tasks)

	report := Report{Operation: name, Outcomes: make([]Outcome, len(results)), Duration: time.Since(start)}
	for i, res := range results {
		report.Outcomes[i] = Outcome{Node: set.nodes[i], Err: res.Err, Duration: res.Duration}
		if res.Err != nil {
			c.log.Error(res.Err, "node operation failed", "operation", name, "node", set.nodes[i].Address)
		}
		if c.metrics != nil {
			c.metrics.FanOutTotal.WithLabelValues(name, metrics.Result(res.Err)).Inc()
		}
	}
	if c.metrics != nil {
		c.metrics.FanOutDuration.WithLabelValues(name).Observe(report.Duration.Seconds())
	}
	c.log.V(1).Info("fan-out joined", "operation", name, "nodes", set.Len(),
		"failures", report.Failures(), "duration", report.Duration)
	return report
}

// RunAll runs a shell command on every node as the login user. A non-zero
// exit code counts as a failure of that node.
func (c *Cluster) RunAll(ctx context.Context, set NodeSet, command string) Report {
	return c.FanOut(ctx, set, "run", func(ctx context.Context, n *node.Node) error {
		return checkResult(n.Run(ctx, command))
	})
}

// RunAllAsRoot is RunAll with root privileges.
func (c *Cluster) RunAllAsRoot(ctx context.Context, set NodeSet, command string) Report {
	return c.FanOut(ctx, set, "run-as-root", func(ctx context.Context, n *node.Node) error {
		return checkResult(n.RunAsRoot(ctx, command))
	})
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Result node.Result
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%q exited %d: %s", e.Result.CommandLine, e.Result.ExitCode, e.Result.Stderr)
}

func checkResult(res node.Result, err error) error {
	if err != nil {
		return err
	}
	if !res.OK() {
		return &ExitError{Result: res}
	}
	return nil
}
