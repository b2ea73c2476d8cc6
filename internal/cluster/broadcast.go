package cluster

import (
	"cmp"
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/metrics"
	"github.com/imamik/fleetrun/internal/node"
)

// CopyFunc transfers the artifact from one node to another.
type CopyFunc func(ctx context.Context, from, to *node.Node) error

// Transfer is one point-to-point copy of a broadcast.
type Transfer struct {
	Round int
	From  *node.Node
	To    *node.Node
	Err   error
}

// CopyReport lists every transfer a broadcast made and the nodes it could
// not reach because the transfer seeding their branch failed.
type CopyReport struct {
	Transfers []Transfer
	Skipped   []*node.Node
	Rounds    int
}

// Failures returns the number of failed transfers.
func (r CopyReport) Failures() int {
	n := 0
	for _, t := range r.Transfers {
		if t.Err != nil {
			n++
		}
	}
	return n
}

// Err summarizes failed transfers and skipped nodes, or returns nil.
func (r CopyReport) Err() error {
	failed := r.Failures()
	if failed == 0 && len(r.Skipped) == 0 {
		return nil
	}
	return fmt.Errorf("broadcast left %d nodes without the artifact (%d failed transfers)", failed+len(r.Skipped), failed)
}

// ByRound groups transfers by round, each round in NodeSet order.
func (r CopyReport) ByRound() [][]Transfer {
	rounds := make([][]Transfer, r.Rounds)
	for _, t := range r.Transfers {
		rounds[t.Round-1] = append(rounds[t.Round-1], t)
	}
	return rounds
}

type broadcaster struct {
	copy  CopyFunc
	index map[*node.Node]int

	mu     sync.Mutex
	report CopyReport
}

// Broadcast replicates an artifact present on set.At(0) to every node in
// set. It copies the first node to the middle one, then recurses on both
// halves in parallel, each half using its own first node as the source.
// A failed transfer skips the half it would have seeded; the other half
// continues.
func (c *Cluster) Broadcast(ctx context.Context, set NodeSet, copyFn CopyFunc) CopyReport {
	b := &broadcaster{copy: copyFn, index: make(map[*node.Node]int, set.Len())}
	for i, n := range set.nodes {
		b.index[n] = i
	}

	b.split(ctx, set.nodes, 1)

	report := b.report
	sortTransfers(report.Transfers, b.index)
	for _, t := range report.Transfers {
		if t.Err != nil {
			c.log.Error(t.Err, "transfer failed", "round", t.Round, "from", t.From.Address, "to", t.To.Address)
		}
		if c.metrics != nil {
			c.metrics.TransfersTotal.WithLabelValues(metrics.Result(t.Err)).Inc()
		}
	}
	if c.metrics != nil {
		c.metrics.BroadcastRounds.Set(float64(report.Rounds))
	}
	c.log.Info("broadcast finished", "nodes", set.Len(), "transfers", len(report.Transfers),
		"rounds", report.Rounds, "failures", report.Failures(), "skipped", len(report.Skipped))
	return report
}

func (b *broadcaster) split(ctx context.Context, nodes []*node.Node, round int) {
	if len(nodes) <= 1 {
		return
	}
	mid := len(nodes) / 2

	// The seed copy must finish before either half starts.
	err := b.transfer(ctx, nodes[0], nodes[mid])
	b.record(Transfer{Round: round, From: nodes[0], To: nodes[mid], Err: err})

	var g errgroup.Group
	g.Go(func() error {
		b.split(ctx, nodes[:mid], round+1)
		return nil
	})
	if err == nil {
		g.Go(func() error {
			b.split(ctx, nodes[mid:], round+1)
			return nil
		})
	} else {
		b.skip(nodes[mid+1:])
	}
	_ = g.Wait()
}

func (b *broadcaster) transfer(ctx context.Context, from, to *node.Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during transfer: %v", r)
		}
	}()
	return b.copy(ctx, from, to)
}

func (b *broadcaster) record(t Transfer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Transfers = append(b.report.Transfers, t)
	if t.Round > b.report.Rounds {
		b.report.Rounds = t.Round
	}
}

func (b *broadcaster) skip(nodes []*node.Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Skipped = append(b.report.Skipped, nodes...)
}

// sortTransfers orders by round, then by source position.
func sortTransfers(ts []Transfer, index map[*node.Node]int) {
	slices.SortStableFunc(ts, func(a, b Transfer) int {
		return cmp.Or(cmp.Compare(a.Round, b.Round), cmp.Compare(index[a.From], index[b.From]))
	})
}

// CopyArtifact replicates the file or directory at p on set.At(0) to the
// same path on every other node with rsync.
func (c *Cluster) CopyArtifact(ctx context.Context, set NodeSet, p string, recursive bool) CopyReport {
	clean := path.Clean(p)
	parent := path.Dir(clean)
	return c.Broadcast(ctx, set, func(ctx context.Context, from, to *node.Node) error {
		if err := checkResult(to.Run(ctx, "mkdir -p "+node.SingleQuote(parent))); err != nil {
			return err
		}
		return checkResult(from.CopyTo(ctx, to, clean, parent+"/", recursive))
	})
}

// Distribute copies src from the orchestrator to dst on every node in set.
// The orchestrator is the root of the broadcast tree, so it only sends
// the first copy of each branch it seeds; the nodes relay the rest.
func (c *Cluster) Distribute(ctx context.Context, set NodeSet, src, dst string, recursive bool) (CopyReport, error) {
	if c.local == nil {
		return CopyReport{}, fault.New(fault.Configuration, "cluster has no orchestrator node")
	}
	full, err := NewNodeSet(append([]*node.Node{c.local}, set.nodes...)...)
	if err != nil {
		return CopyReport{}, err
	}
	clean := path.Clean(dst)
	parent := path.Dir(clean)
	return c.Broadcast(ctx, full, func(ctx context.Context, from, to *node.Node) error {
		if err := checkResult(to.Run(ctx, "mkdir -p "+node.SingleQuote(parent))); err != nil {
			return err
		}
		if from.IsLocal {
			return checkResult(from.CopyTo(ctx, to, rsyncSource(src, recursive), rsyncSource(clean, recursive), recursive))
		}
		return checkResult(from.CopyTo(ctx, to, clean, parent+"/", recursive))
	}), nil
}

// rsyncSource adds the trailing slash that makes rsync copy a directory's
// contents instead of nesting it.
func rsyncSource(p string, recursive bool) string {
	if recursive {
		return strings.TrimSuffix(p, "/") + "/"
	}
	return p
}
