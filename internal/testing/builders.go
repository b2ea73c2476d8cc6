package testing

import (
	"fmt"

	"github.com/imamik/fleetrun/internal/node"
)

// TestKeyPath is the orchestrator key every test node is opened with.
const TestKeyPath = "/keys/cluster-key"

// NewNode returns a remote node with the login user "ubuntu" backed by a
// fresh FakeExecutor.
func NewNode(address string, opts ...node.Option) (*node.Node, *FakeExecutor) {
	exec := NewFakeExecutor(address)
	opts = append([]node.Option{node.WithKey(TestKeyPath)}, opts...)
	return node.New(address, "ubuntu", exec, opts...), exec
}

// NewNodes returns n cloud nodes 10.0.0.1..n with external addresses
// 203.0.113.1..n and hostnames ofsnode-001..n.
func NewNodes(n int) ([]*node.Node, []*FakeExecutor) {
	nodes := make([]*node.Node, n)
	execs := make([]*FakeExecutor, n)
	for i := range n {
		nodes[i], execs[i] = NewNode(
			fmt.Sprintf("10.0.0.%d", i+1),
			node.WithExternalAddress(fmt.Sprintf("203.0.113.%d", i+1)),
			node.WithHostname(fmt.Sprintf("ofsnode-%03d", i+1)),
			node.AsCloud(),
		)
	}
	return nodes, execs
}

// NewLocalNode returns an orchestrator node backed by a FakeExecutor.
func NewLocalNode() (*node.Node, *FakeExecutor) {
	exec := NewFakeExecutor("127.0.0.1")
	n := node.New("127.0.0.1", "runner", exec, node.WithHostname("orchestrator"))
	n.IsLocal = true
	return n, exec
}
