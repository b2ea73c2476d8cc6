package node

import (
	"context"
	"fmt"
	"strings"

	"github.com/imamik/fleetrun/internal/fault"
)

// sshOptions disable host key prompts for node-to-node copies inside a
// freshly provisioned cluster.
const sshOptions = "-o UserKnownHostsFile=/dev/null -o StrictHostKeyChecking=no"

// CopyTo copies src on n to dstPath on dst with rsync over ssh.
//
// The local node opens dst with the orchestrator key on its external
// address. A cluster node uses the key recorded for dst in its KeyTable and
// targets the internal address.
func (n *Node) CopyTo(ctx context.Context, dst *Node, src, dstPath string, recursive bool) (Result, error) {
	key, host, err := n.peerKey(dst)
	if err != nil {
		return Result{}, err
	}
	return n.Run(ctx, rsyncLine(key, recursive, src, fmt.Sprintf("%s@%s:%s", dst.User, host, dstPath)))
}

// CopyFrom copies srcPath on src to dstPath on n with rsync over ssh.
func (n *Node) CopyFrom(ctx context.Context, src *Node, srcPath, dstPath string, recursive bool) (Result, error) {
	key, host, err := n.peerKey(src)
	if err != nil {
		return Result{}, err
	}
	return n.Run(ctx, rsyncLine(key, recursive, fmt.Sprintf("%s@%s:%s", src.User, host, srcPath), dstPath))
}

// CopyLocal copies a path to another path on n.
func (n *Node) CopyLocal(ctx context.Context, src, dst string, recursive bool) (Result, error) {
	flag := ""
	if recursive {
		flag = "-r "
	}
	return n.Run(ctx, fmt.Sprintf("cp %s%s %s", flag, SingleQuote(src), SingleQuote(dst)))
}

func (n *Node) peerKey(peer *Node) (key, host string, err error) {
	if n.IsLocal {
		if peer.KeyPath == "" {
			return "", "", fault.New(fault.Configuration, "no key configured for %s", peer.Reachable())
		}
		return peer.KeyPath, peer.Reachable(), nil
	}
	if k, ok := n.Keys.Get(peer.Reachable()); ok {
		return k, peer.Address, nil
	}
	if k, ok := n.Keys.Get(peer.Address); ok {
		return k, peer.Address, nil
	}
	return "", "", fault.New(fault.Configuration, "%s has no key recorded for %s", n.Address, peer.Address)
}

func rsyncLine(key string, recursive bool, src, dst string) string {
	flags := "-lpt"
	if recursive {
		flags = "-a"
	}
	shell := strings.Join([]string{"ssh -i", key, sshOptions}, " ")
	return fmt.Sprintf("rsync %s -e %s %s %s", flags, DoubleQuote(shell), SingleQuote(src), SingleQuote(dst))
}
