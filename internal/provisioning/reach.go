package provisioning

import (
	"context"
	"fmt"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/node"
	"github.com/imamik/fleetrun/internal/util/async"
	"github.com/imamik/fleetrun/internal/util/naming"
)

const phaseReach = "reach"

// NodeFactory builds the node an Active instance is driven through.
type NodeFactory func(inst *Instance) (*node.Node, error)

// MakeReachable waits in parallel for every instance to accept an SSH
// login. Instances that answer advance to Reachable and get a node in the
// returned slice, in input order. The others are marked Failed.
func (p *Provisioner) MakeReachable(ctx context.Context, insts []*Instance, newNode NodeFactory) ([]*node.Node, []*Instance) {
	LogPhaseStart(p.observer, phaseReach)
	nodes := make([]*node.Node, len(insts))
	tasks := make([]async.Task, len(insts))
	for i, inst := range insts {
		tasks[i] = async.Task{
			Name: inst.ID,
			Func: func(ctx context.Context) error {
				n, err := newNode(inst)
				if err != nil {
					return err
				}
				if err := p.prober.WaitSSH(ctx, p.settings.SSH, n); err != nil {
					return err
				}
				nodes[i] = n
				return nil
			},
		}
	}

	var ready []*node.Node
	var failed []*Instance
	for i, r := range async.RunAll(ctx, tasks) {
		inst := insts[i]
		if r.Err == nil {
			r.Err = inst.Advance(StateReachable)
		}
		if r.Err != nil {
			inst.Fail(r.Err.Error())
			LogResourceFailed(p.observer, phaseReach, inst.String(), r.Err.Error())
			failed = append(failed, inst)
			continue
		}
		ready = append(ready, nodes[i])
	}
	p.observer.Progress(phaseReach, len(ready), len(insts))
	return ready, failed
}

// NormalizeHostnames gives every node a cluster-unique hostname. A node
// whose Hostname already carries a number under the cluster prefix, such as
// one named after its instance, keeps that number unless an earlier node
// claimed it, and the host sequence is advanced past every kept number. The
// others get the next numbers of the sequence, allocated before any remote
// call so numbering does not depend on scheduling. With reboot set, nodes are
// rebooted once and the name is set again where the image reset it at boot.
func (p *Provisioner) NormalizeHostnames(ctx context.Context, nodes []*node.Node, reboot bool) error {
	names := make([]string, len(nodes))
	kept := make(map[int]bool, len(nodes))
	for i, n := range nodes {
		if num, ok := naming.HostNumber(p.prefix, n.Hostname); ok && !kept[num] {
			kept[num] = true
			p.hosts.Advance(num)
			names[i] = naming.Hostname(p.prefix, num)
		}
	}
	for i := range nodes {
		if names[i] == "" {
			names[i] = naming.Hostname(p.prefix, p.hosts.Next())
		}
	}

	tasks := make([]async.Task, len(nodes))
	for i, n := range nodes {
		tasks[i] = async.Task{
			Name: n.Reachable(),
			Func: func(ctx context.Context) error {
				return p.normalizeHostname(ctx, n, names[i], reboot)
			},
		}
	}
	return async.RunParallel(ctx, tasks)
}

func (p *Provisioner) normalizeHostname(ctx context.Context, n *node.Node, name string, reboot bool) error {
	if err := setHostname(ctx, n, name); err != nil {
		return err
	}
	if !reboot {
		n.Hostname = name
		return nil
	}

	// the ssh session may be cut before reboot returns
	_, _ = n.RunAsRoot(ctx, "nohup bash -c 'sleep 2; reboot' > /dev/null 2>&1 &")
	p.observer.Event(Event{
		Type:     EventProgress,
		Phase:    phaseReach,
		Resource: n.Reachable(),
		Message:  fmt.Sprintf("waiting %s for reboot", p.settings.RebootWait),
	})
	if err := sleep(ctx, p.settings.RebootWait); err != nil {
		return err
	}
	if err := p.prober.WaitSSH(ctx, p.settings.SSH, n); err != nil {
		return err
	}

	current, err := n.Output(ctx, "hostname")
	if err != nil {
		return err
	}
	if current != name {
		LogWarning(p.observer, phaseReach, fmt.Sprintf("%s came back as %q, setting %s again", n.Reachable(), current, name))
		if err := setHostname(ctx, n, name); err != nil {
			return err
		}
	}
	n.Hostname = name
	return nil
}

func setHostname(ctx context.Context, n *node.Node, name string) error {
	res, err := n.RunAsRoot(ctx, fmt.Sprintf("hostname %s && echo %s > /etc/hostname && echo %s > /etc/HOSTNAME", name, name, name))
	if err != nil {
		return err
	}
	if !res.OK() {
		return fault.New(fault.Provisioning, "failed to set hostname %s on %s: exit %d: %s", name, n.Reachable(), res.ExitCode, res.Stderr)
	}
	return nil
}
