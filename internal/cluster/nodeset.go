package cluster

import (
	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/node"
)

// NodeSet is an ordered, immutable list of nodes. Order only matters for
// Broadcast, where the first node is the source.
type NodeSet struct {
	nodes []*node.Node
}

// NewNodeSet builds a set, rejecting duplicate internal addresses.
func NewNodeSet(nodes ...*node.Node) (NodeSet, error) {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n == nil {
			return NodeSet{}, fault.New(fault.Configuration, "node set contains a nil node")
		}
		if seen[n.Address] {
			return NodeSet{}, fault.New(fault.Configuration, "duplicate node address %s", n.Address)
		}
		seen[n.Address] = true
	}
	return NodeSet{nodes: append([]*node.Node(nil), nodes...)}, nil
}

// Len returns the number of nodes.
func (s NodeSet) Len() int {
	return len(s.nodes)
}

// At returns the i-th node.
func (s NodeSet) At(i int) *node.Node {
	return s.nodes[i]
}

// Nodes returns a copy of the node list.
func (s NodeSet) Nodes() []*node.Node {
	return append([]*node.Node(nil), s.nodes...)
}

// Addresses returns the internal addresses in order.
func (s NodeSet) Addresses() []string {
	addrs := make([]string, len(s.nodes))
	for i, n := range s.nodes {
		addrs[i] = n.Address
	}
	return addrs
}

// WithFirst returns a copy of the set reordered so that src comes first.
// It is used to pick the source of a broadcast.
func (s NodeSet) WithFirst(src *node.Node) (NodeSet, error) {
	out := []*node.Node{src}
	found := false
	for _, n := range s.nodes {
		if n == src {
			found = true
			continue
		}
		out = append(out, n)
	}
	if !found {
		return NodeSet{}, fault.New(fault.NotFound, "%s is not part of the node set", src.Address)
	}
	return NodeSet{nodes: out}, nil
}
