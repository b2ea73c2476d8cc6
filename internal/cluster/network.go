package cluster

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/imamik/fleetrun/internal/node"
	"github.com/imamik/fleetrun/internal/probe"
	"github.com/imamik/fleetrun/internal/util/retry"
)

// CheckNetwork has every node ping every other node's internal address as
// root and returns the number of pairs that did not answer. Nodes that
// cannot run ping at all are reported in the returned Report.
func (c *Cluster) CheckNetwork(ctx context.Context) (int, Report) {
	set := c.Snapshot()
	var failures atomic.Int64
	report := c.FanOut(ctx, set, "check-network", func(ctx context.Context, n *node.Node) error {
		var peers []string
		for _, p := range set.nodes {
			if p != n {
				peers = append(peers, p.Address)
			}
		}
		failed, err := probe.Ping(ctx, n, peers)
		failures.Add(int64(failed))
		if failed > 0 {
			c.log.Info("peers unreachable", "node", n.Address, "failures", failed)
		}
		return err
	})
	return int(failures.Load()), report
}

// CheckExternalConnectivity pings every node's reachable address from the
// orchestrator and returns how many did not answer.
func (c *Cluster) CheckExternalConnectivity(ctx context.Context) (int, error) {
	set := c.Snapshot()
	addrs := make([]string, set.Len())
	for i, n := range set.nodes {
		addrs[i] = n.Reachable()
	}
	return probe.Ping(ctx, c.local, addrs)
}

// WaitExternalConnectivity polls CheckExternalConnectivity until every node
// answers or the poller gives up.
func (c *Cluster) WaitExternalConnectivity(ctx context.Context, p *probe.Prober, poller retry.Poller) error {
	return p.Converge(ctx, poller, "connectivity", func(ctx context.Context) (int, error) {
		return c.CheckExternalConnectivity(ctx)
	})
}

// UpdateEtcHosts adds a line for every peer's internal address and hostname
// to each node's /etc/hosts. Entries already present are kept.
func (c *Cluster) UpdateEtcHosts(ctx context.Context) Report {
	set := c.Snapshot()
	return c.FanOut(ctx, set, "update-etc-hosts", func(ctx context.Context, n *node.Node) error {
		line := etcHostsCommand(n, set.nodes)
		if line == "" {
			return nil
		}
		return checkResult(n.RunAsRoot(ctx, line))
	})
}

func etcHostsCommand(n *node.Node, nodes []*node.Node) string {
	var parts []string
	for _, p := range nodes {
		if p == n || p.Hostname == "" {
			continue
		}
		entry := fmt.Sprintf("%s %s", p.Address, p.Hostname)
		parts = append(parts, fmt.Sprintf("(grep -q %s /etc/hosts || echo %s >> /etc/hosts)",
			node.SingleQuote("^"+p.Address+" "), node.SingleQuote(entry)))
	}
	return strings.Join(parts, " && ")
}
