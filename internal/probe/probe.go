// Package probe holds the bounded convergence loops that gate cluster
// readiness: external connectivity, all-pairs reachability and SSH login.
//
// Every loop is a fixed-interval, fixed-attempt retry.Poller. Exceeding the
// bound yields a fault.Transport error wrapping retry.ErrExhausted instead of
// waiting forever.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/metrics"
	"github.com/imamik/fleetrun/internal/node"
	"github.com/imamik/fleetrun/internal/util/retry"
)

// Default bounds.
var (
	DefaultConnectivity = retry.Poller{Interval: 10 * time.Second, MaxAttempts: 30}
	DefaultSSH          = retry.Poller{Interval: 20 * time.Second, MaxAttempts: 15}
)

// Prober runs convergence loops and reports their progress.
type Prober struct {
	Log     logr.Logger
	Metrics *metrics.Metrics
}

// New returns a Prober. m may be nil.
func New(log logr.Logger, m *metrics.Metrics) *Prober {
	return &Prober{Log: log, Metrics: m}
}

// Until polls check with poller until it holds. Progress is logged as
// "waited N of M seconds for <what>".
func (p *Prober) Until(ctx context.Context, poller retry.Poller, what string, check func(ctx context.Context) (bool, error)) error {
	poller.OnProgress = func(pr retry.Progress) {
		kv := []any{"attempt", pr.Attempt, "max", pr.MaxAttempts}
		if pr.Err != nil {
			kv = append(kv, "error", pr.Err.Error())
		}
		p.Log.Info(pr.String()+" for "+what, kv...)
	}

	counted := func(ctx context.Context) (bool, error) {
		if p.Metrics != nil {
			p.Metrics.PollAttemptsTotal.WithLabelValues(what).Inc()
		}
		return check(ctx)
	}

	if err := poller.Poll(ctx, counted); err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return fault.Wrapf(fault.Transport, err, "gave up waiting %s for %s", poller.Budget(), what)
		}
		return err
	}
	return nil
}

// Converge polls count until it reports zero failures.
func (p *Prober) Converge(ctx context.Context, poller retry.Poller, what string, count func(ctx context.Context) (int, error)) error {
	return p.Until(ctx, poller, what, func(ctx context.Context) (bool, error) {
		failures, err := count(ctx)
		if err != nil {
			return false, err
		}
		if failures > 0 {
			p.Log.V(1).Info("unreachable addresses remain", "what", what, "failures", failures)
		}
		return failures == 0, nil
	})
}

// WaitConnectivity waits until from can ping every node's reachable address.
func (p *Prober) WaitConnectivity(ctx context.Context, poller retry.Poller, from *node.Node, nodes []*node.Node) error {
	addrs := make([]string, len(nodes))
	for i, n := range nodes {
		addrs[i] = n.Reachable()
	}
	return p.Converge(ctx, poller, "connectivity", func(ctx context.Context) (int, error) {
		return Ping(ctx, from, addrs)
	})
}

// WaitSSH waits until n accepts a login as its user or as root.
func (p *Prober) WaitSSH(ctx context.Context, poller retry.Poller, n *node.Node) error {
	return p.Until(ctx, poller, "ssh to become active on "+n.Reachable(), func(ctx context.Context) (bool, error) {
		return SSHReady(ctx, n)
	})
}

// Ping pings each address once as root from n and returns how many did not
// answer. Addresses are pinged sequentially.
func Ping(ctx context.Context, from *node.Node, addrs []string) (int, error) {
	failures := 0
	for _, addr := range addrs {
		res, err := from.RunAsRoot(ctx, "ping -c 1 -W 2 "+addr+" > /dev/null")
		if err != nil {
			return 0, err
		}
		if !res.OK() {
			failures++
		}
	}
	return failures, nil
}

// SSHReady runs whoami as the login user and then as root. Either one
// answering is enough.
func SSHReady(ctx context.Context, n *node.Node) (bool, error) {
	res, userErr := n.Run(ctx, "whoami")
	if userErr == nil && res.OK() {
		return true, nil
	}
	res, rootErr := n.RunAsRoot(ctx, "whoami")
	if rootErr == nil && res.OK() {
		return true, nil
	}
	if userErr != nil || rootErr != nil {
		return false, errors.Join(userErr, rootErr)
	}
	return false, fmt.Errorf("whoami on %s exited %d", n.Reachable(), res.ExitCode)
}
