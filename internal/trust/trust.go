// Package trust establishes any-to-any SSH trust across cluster nodes.
//
// The orchestrator key that opens each node is copied onto every other node
// and recorded in the receiving node's KeyTable, so any node can relay
// copies to any peer. Known-hosts files are seeded with every identity a
// peer may be addressed by, so unattended ssh never stops at a host key
// prompt.
package trust

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/node"
	"github.com/imamik/fleetrun/internal/util/async"
)

const installRsync = "command -v rsync > /dev/null || " +
	"(command -v apt-get > /dev/null && DEBIAN_FRONTEND=noninteractive apt-get install -y rsync) || " +
	"(command -v dnf > /dev/null && dnf install -y rsync) || " +
	"(command -v yum > /dev/null && yum install -y rsync) || " +
	"(command -v zypper > /dev/null && zypper --non-interactive install rsync)"

// Manager distributes keys and host identities.
type Manager struct {
	Log logr.Logger
}

// New returns a Manager.
func New(log logr.Logger) *Manager {
	return &Manager{Log: log}
}

// EnablePasswordless uploads every node's key to every node and seeds all
// known-hosts files.
func (m *Manager) EnablePasswordless(ctx context.Context, local *node.Node, nodes []*node.Node) error {
	if err := m.UploadKeys(ctx, local, nodes); err != nil {
		return err
	}
	scans, err := m.SeedKnownHosts(ctx, nodes)
	if err != nil {
		return err
	}
	m.Log.Info("passwordless ssh enabled", "nodes", len(nodes), "keyscans", scans)
	return nil
}

// UploadNodeKey copies the key that opens n onto n itself and links it as
// n's default identity.
func (m *Manager) UploadNodeKey(ctx context.Context, local, n *node.Node) error {
	if _, err := m.uploadKey(ctx, local, n, n.KeyPath); err != nil {
		return err
	}
	keyOnNode := remoteKeyPath(n, n.KeyPath)
	n.Keys.Set(n.Reachable(), keyOnNode)
	if n.ExternalAddress != "" {
		n.Keys.Set(n.Address, keyOnNode)
	}

	// An existing id_rsa is left alone.
	if _, err := n.Run(ctx, fmt.Sprintf("ln -s %s ~/.ssh/id_rsa", node.SingleQuote(keyOnNode))); err != nil {
		return err
	}
	return nil
}

// UploadKeys gives every node the key of every peer and records it in the
// node's KeyTable under the peer's addresses. Nodes are handled in parallel;
// one node failing does not stop the others.
func (m *Manager) UploadKeys(ctx context.Context, local *node.Node, nodes []*node.Node) error {
	tasks := make([]async.Task, len(nodes))
	for i, n := range nodes {
		tasks[i] = async.Task{
			Name: n.String(),
			Func: func(ctx context.Context) error {
				return m.uploadPeerKeys(ctx, local, n, nodes)
			},
		}
	}
	if err := async.RunParallel(ctx, tasks); err != nil {
		return fmt.Errorf("failed to upload keys: %w", err)
	}
	return nil
}

// RecordKeys fills every node's KeyTable with the paths UploadKeys puts
// each peer's key at, without contacting the nodes. It restores the tables
// of a cluster whose trust an earlier session established.
func (m *Manager) RecordKeys(nodes []*node.Node) {
	for _, n := range nodes {
		for _, peer := range nodes {
			if peer.KeyPath == "" {
				continue
			}
			keyOnNode := remoteKeyPath(n, peer.KeyPath)
			n.Keys.Set(peer.Reachable(), keyOnNode)
			n.Keys.Set(peer.Address, keyOnNode)
		}
	}
}

func (m *Manager) uploadPeerKeys(ctx context.Context, local, n *node.Node, peers []*node.Node) error {
	uploaded := make(map[string]string)
	for _, peer := range peers {
		if peer.KeyPath == "" {
			return fault.New(fault.Configuration, "no key configured for %s", peer.Address)
		}
		keyOnNode, ok := uploaded[peer.KeyPath]
		if !ok {
			var err error
			if keyOnNode, err = m.uploadKey(ctx, local, n, peer.KeyPath); err != nil {
				return err
			}
			uploaded[peer.KeyPath] = keyOnNode
		}
		n.Keys.Set(peer.Reachable(), keyOnNode)
		n.Keys.Set(peer.Address, keyOnNode)
	}
	return nil
}

// uploadKey makes sure rsync exists on n, copies keyPath into n's ~/.ssh
// and returns where it landed.
func (m *Manager) uploadKey(ctx context.Context, local, n *node.Node, keyPath string) (string, error) {
	res, err := n.RunAsRoot(ctx, installRsync)
	if err != nil {
		return "", err
	}
	if !res.OK() {
		m.Log.Info("could not install rsync", "node", n.Address, "rc", res.ExitCode, "stderr", res.Stderr)
	}

	if _, err := n.Run(ctx, "mkdir -p ~/.ssh && chmod 700 ~/.ssh"); err != nil {
		return "", err
	}
	res, err = local.CopyTo(ctx, n, keyPath, ".ssh/", false)
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", fault.New(fault.Transport, "copying %s to %s exited %d: %s", keyPath, n.Address, res.ExitCode, res.Stderr)
	}

	dst := remoteKeyPath(n, keyPath)
	if _, err := n.Run(ctx, "chmod 600 "+node.SingleQuote(dst)); err != nil {
		return "", err
	}
	m.Log.V(1).Info("uploaded key", "node", n.Address, "key", dst)
	return dst, nil
}

// SeedKnownHosts scans, on every node, the host keys of localhost,
// 127.0.0.1 and every peer's hostname, internal and external address into
// ~/.ssh/known_hosts. It returns the number of scans issued.
func (m *Manager) SeedKnownHosts(ctx context.Context, nodes []*node.Node) (int, error) {
	var scans atomic.Int64
	tasks := make([]async.Task, len(nodes))
	for i, n := range nodes {
		tasks[i] = async.Task{
			Name: n.String(),
			Func: func(ctx context.Context) error {
				for _, id := range identities(n, nodes) {
					scans.Add(1)
					line := fmt.Sprintf("ssh-keyscan -T 5 %s >> ~/.ssh/known_hosts 2> /dev/null", id)
					if _, err := n.Run(ctx, line); err != nil {
						return err
					}
				}
				return nil
			},
		}
	}
	err := async.RunParallel(ctx, tasks)
	if err != nil {
		err = fmt.Errorf("failed to seed known hosts: %w", err)
	}
	return int(scans.Load()), err
}

// identities lists what n should scan: itself through loopback, then three
// identities for every peer.
func identities(n *node.Node, nodes []*node.Node) []string {
	ids := []string{"localhost", "127.0.0.1"}
	for _, peer := range nodes {
		if peer == n {
			continue
		}
		for _, id := range []string{peer.Hostname, peer.Address, peer.ExternalAddress} {
			if id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// EnsureLoginAccess makes sure the login user of n holds usable keys.
//
// Fresh images sometimes only authorize root. When the user's group cannot
// be looked up as the user itself, because the lookup is empty or the user
// cannot log in at all, but can as root, root's ~/.ssh is copied
// to the user's home and reowned. When the lookup works directly on a cloud
// node, the user's keys are mirrored to root instead.
func (m *Manager) EnsureLoginAccess(ctx context.Context, n *node.Node) error {
	if n.User == node.Root {
		n.Group = node.Root
		return nil
	}

	group, err := lookupGroup(ctx, n, n.User)
	if err != nil {
		m.Log.V(1).Info("login user lookup failed, retrying as root", "node", n.Address, "user", n.User, "error", err.Error())
		group = ""
	}
	if group != "" {
		n.Group = group
		if n.IsCloud {
			return m.allowRootAccess(ctx, n)
		}
		return nil
	}

	group, err = lookupGroup(ctx, n, node.Root)
	if err != nil {
		return err
	}
	if group == "" {
		return fault.New(fault.Transport, "cannot determine the group of %s on %s", n.User, n.Address)
	}
	n.Group = group

	m.Log.Info("copying root keys to login user", "node", n.Address, "user", n.User)
	res, err := n.RunAsRoot(ctx, fmt.Sprintf("cp -r /root/.ssh %s/ && chown -R %s:%s %s/.ssh",
		n.Home(), n.User, group, n.Home()))
	if err != nil {
		return err
	}
	if !res.OK() {
		return fault.New(fault.Transport, "copying root keys on %s exited %d: %s", n.Address, res.ExitCode, res.Stderr)
	}
	return nil
}

func (m *Manager) allowRootAccess(ctx context.Context, n *node.Node) error {
	res, err := n.RunAsBatch(ctx, fmt.Sprintf("sudo /bin/cp -r %s/.ssh /root/", n.Home()))
	if err != nil {
		return err
	}
	if !res.OK() {
		m.Log.Info("could not mirror keys to root", "node", n.Address, "rc", res.ExitCode)
	}
	return nil
}

// lookupGroup reads the group owning the user's home, first under /home
// and then under /Users, running the lookup as as.
func lookupGroup(ctx context.Context, n *node.Node, as string) (string, error) {
	for _, base := range []string{"/home/", "/Users/"} {
		out, err := n.OutputAs(ctx, as, fmt.Sprintf("ls -l %s | grep -w %s | awk '{print $4}'", base, n.User))
		if err != nil {
			return "", err
		}
		if first, _, _ := strings.Cut(out, "\n"); first != "" {
			return strings.TrimSpace(first), nil
		}
	}
	return "", nil
}

func remoteKeyPath(n *node.Node, keyPath string) string {
	return path.Join(n.Home(), ".ssh", path.Base(keyPath))
}
