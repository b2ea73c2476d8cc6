package cluster

import (
	"context"
	"slices"
	"sync"

	"github.com/go-logr/logr"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/metrics"
	"github.com/imamik/fleetrun/internal/node"
	"github.com/imamik/fleetrun/internal/util/async"
	"github.com/imamik/fleetrun/internal/util/naming"
)

// DefaultInstanceLog is where provisioned addresses are persisted.
const DefaultInstanceLog = "cloudnodes.lst"

// Cluster owns the orchestrator node and the nodes of one session.
type Cluster struct {
	local *node.Node

	mu    sync.Mutex
	nodes []*node.Node

	// InstanceLog persists cloud node addresses across restarts.
	InstanceLog InstanceLog
	// Hosts allocates cluster-unique host numbers.
	Hosts      *naming.Sequence
	HostPrefix string

	metrics *metrics.Metrics
	log     logr.Logger
}

// Option configures a Cluster.
type Option func(*Cluster)

// WithInstanceLog sets the instance log path.
func WithInstanceLog(path string) Option {
	return func(c *Cluster) { c.InstanceLog = InstanceLog(path) }
}

// WithMetrics sets the collectors fan-outs and copies are recorded on.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cluster) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(c *Cluster) { c.log = log }
}

// WithHostPrefix sets the hostname prefix of cloud nodes.
func WithHostPrefix(prefix string) Option {
	return func(c *Cluster) { c.HostPrefix = prefix }
}

// New creates a cluster around the orchestrator node.
func New(local *node.Node, opts ...Option) *Cluster {
	c := &Cluster{
		local:       local,
		InstanceLog: DefaultInstanceLog,
		Hosts:       naming.NewSequence(0),
		HostPrefix:  naming.DefaultHostPrefix,
		log:         logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Local returns the orchestrator node.
func (c *Cluster) Local() *node.Node {
	return c.local
}

// Add appends nodes, rejecting addresses already present.
func (c *Cluster) Add(nodes ...*node.Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := NewNodeSet(append(slices.Clone(c.nodes), nodes...)...); err != nil {
		return err
	}
	c.nodes = append(c.nodes, nodes...)
	return nil
}

// AddRemoteNode adopts an existing machine: it discovers the host and adds
// it to the cluster.
func (c *Cluster) AddRemoteNode(ctx context.Context, n *node.Node) error {
	return c.AddRemoteNodes(ctx, n)
}

// AddRemoteNodes adopts several machines. Discovery runs in parallel; the
// nodes are added in argument order once every one of them answered.
func (c *Cluster) AddRemoteNodes(ctx context.Context, nodes ...*node.Node) error {
	tasks := make([]async.Task, len(nodes))
	for i, n := range nodes {
		tasks[i] = async.Task{
			Name: n.Address,
			Func: func(ctx context.Context) error {
				if _, err := n.Discover(ctx); err != nil {
					return fault.Wrapf(fault.KindOf(err), err, "failed to adopt %s", n.Address)
				}
				return nil
			},
		}
	}
	if err := async.RunParallel(ctx, tasks); err != nil {
		return err
	}
	if err := c.Add(nodes...); err != nil {
		return err
	}
	for _, n := range nodes {
		c.log.Info("adopted node", "node", n.Address, "hostname", n.Hostname, "distro", n.Info.Distro)
	}
	return nil
}

// Remove drops the node with the given internal address.
func (c *Cluster) Remove(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.nodes {
		if n.Address == address {
			c.nodes = slices.Delete(c.nodes, i, i+1)
			return true
		}
	}
	return false
}

// Snapshot returns the current members as an immutable set.
func (c *Cluster) Snapshot() NodeSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return NodeSet{nodes: slices.Clone(c.nodes)}
}

// FindNode looks a node up by internal address, external address or
// hostname.
func (c *Cluster) FindNode(key string) *node.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		if n.Address == key || n.ExternalAddress == key || n.Hostname == key {
			return n
		}
	}
	return nil
}

// CloudNodes returns the members provisioned by a cloud backend.
func (c *Cluster) CloudNodes() []*node.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*node.Node
	for _, n := range c.nodes {
		if n.IsCloud {
			out = append(out, n)
		}
	}
	return out
}

// PersistCloudNodes writes the internal addresses of all cloud nodes to the
// instance log.
func (c *Cluster) PersistCloudNodes() error {
	var addrs []string
	for _, n := range c.CloudNodes() {
		addrs = append(addrs, n.Address)
	}
	return c.InstanceLog.Write(addrs)
}
