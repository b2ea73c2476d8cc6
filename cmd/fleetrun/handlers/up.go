package handlers

import (
	"context"
	"fmt"

	"github.com/imamik/fleetrun/internal/cluster"
	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/node"
	"github.com/imamik/fleetrun/internal/provisioning"
	"github.com/imamik/fleetrun/internal/util/async"
	"github.com/imamik/fleetrun/internal/util/keygen"
)

// keyBits is the size of a generated orchestrator key.
const keyBits = 4096

// loadKey reads or creates the orchestrator key - can be replaced in tests.
var loadKey = keygen.LoadOrGenerate

// Up brings the cluster up.
//
// It adopts the configured nodes and the instances recorded by earlier
// runs, provisions the requested number of new instances, establishes
// passwordless SSH between all nodes, waits until every node answers and
// copies the configured artifacts to every node.
func Up(ctx context.Context, g Globals, configPath string) error {
	s, err := openSession(ctx, g, configPath)
	if err != nil {
		return err
	}
	defer s.Close()

	kp, generated, err := loadKey(s.cfg.Key.Path, keyBits)
	if err != nil {
		return fault.Wrapf(fault.Configuration, err, "failed to load orchestrator key")
	}
	if generated {
		s.log.Info("generated orchestrator key", "path", s.cfg.Key.Path)
	}

	if err := s.load(ctx); err != nil {
		return err
	}
	if s.cfg.Provision.Count > 0 {
		if err := s.provision(ctx, string(kp.PublicKey)); err != nil {
			return err
		}
	}

	set := s.cluster.Snapshot()
	if set.Len() == 0 {
		return fault.New(fault.Configuration, "cluster %s has no nodes", s.cfg.Name)
	}
	if err := s.establishTrust(ctx, set); err != nil {
		return err
	}
	if err := s.cluster.WaitExternalConnectivity(ctx, s.prober, s.timeouts.ConnectivityPoller()); err != nil {
		return err
	}
	failures, report := s.cluster.CheckNetwork(ctx)
	if err := report.Err(); err != nil {
		return err
	}
	if failures > 0 {
		return fault.New(fault.Transport, "%d node pairs cannot reach each other", failures)
	}

	for _, a := range s.cfg.Artifacts {
		if err := s.distribute(ctx, set, a.Source, a.Destination, a.Recursive); err != nil {
			return err
		}
	}
	return s.cluster.Print(stdout)
}

// provision creates the requested instances and adds those that become
// reachable to the cluster. Instances abandoned on the way are terminated.
func (s *session) provision(ctx context.Context, publicKey string) error {
	p, err := s.provisioner()
	if err != nil {
		return err
	}
	req, err := s.cfg.ProvisionRequest()
	if err != nil {
		return err
	}
	if reg, ok := s.backend.(provisioning.KeyRegistrar); ok && req.KeyName != "" {
		if err := reg.RegisterKey(ctx, req.KeyName, publicKey); err != nil {
			return fault.Wrapf(fault.KindOf(err), err, "failed to register key %s", req.KeyName)
		}
	}

	res, err := p.Provision(ctx, req)
	if err != nil {
		return err
	}
	nodes, unreachable := p.MakeReachable(ctx, res.Ready, s.cloudNode)
	s.discard(ctx, append(res.Failed, unreachable...))
	if len(nodes) == 0 {
		return fault.New(fault.Provisioning, "none of %d instances became reachable", req.Count)
	}

	if err := s.cluster.Add(nodes...); err != nil {
		return err
	}
	if err := s.cluster.PersistCloudNodes(); err != nil {
		return err
	}
	if err := p.NormalizeHostnames(ctx, nodes, s.cfg.Provision.VerifyHostname); err != nil {
		return err
	}

	added, err := cluster.NewNodeSet(nodes...)
	if err != nil {
		return err
	}
	report := s.cluster.FanOut(ctx, added, "discover", func(ctx context.Context, n *node.Node) error {
		_, err := n.Discover(ctx)
		return err
	})
	if err := report.Err(); err != nil {
		return err
	}
	s.log.Info("provisioned nodes", "ready", len(nodes), "requested", req.Count)
	return nil
}

// discard terminates instances that were created but will not join the
// cluster. Failures are logged; the instances stay visible on the vendor
// side under the cluster's name.
func (s *session) discard(ctx context.Context, insts []*provisioning.Instance) {
	tasks := make([]async.Task, 0, len(insts))
	for _, inst := range insts {
		if inst.ID == "" {
			continue
		}
		tasks = append(tasks, async.Task{
			Name: inst.String(),
			Func: func(ctx context.Context) error {
				s.log.Info("terminating abandoned instance", "instance", inst.String(), "reason", inst.FailReason)
				return s.backend.Terminate(ctx, inst)
			},
		})
	}
	for _, r := range async.RunAll(ctx, tasks) {
		if r.Err != nil {
			s.log.Error(r.Err, "failed to terminate abandoned instance", "instance", r.Name)
		}
	}
}

// establishTrust makes every node usable by its login user and as root,
// then lets every node open every other node.
func (s *session) establishTrust(ctx context.Context, set cluster.NodeSet) error {
	report := s.cluster.FanOut(ctx, set, "ensure-login-access", func(ctx context.Context, n *node.Node) error {
		return s.trust.EnsureLoginAccess(ctx, n)
	})
	if err := report.Err(); err != nil {
		return err
	}
	if err := s.trust.EnablePasswordless(ctx, s.cluster.Local(), set.Nodes()); err != nil {
		return err
	}
	if err := s.cluster.UpdateEtcHosts(ctx).Err(); err != nil {
		return fmt.Errorf("failed to update /etc/hosts: %w", err)
	}
	return nil
}
