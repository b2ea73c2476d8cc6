// Package handlers implements the business logic for CLI commands.
//
// Every command opens a session from the cluster file: the logger, the
// metrics registry, the vendor backend and the cluster with its adopted and
// previously provisioned nodes. Constructors are package variables so tests
// can replace them with fakes.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/fleetrun/internal/cluster"
	"github.com/imamik/fleetrun/internal/config"
	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/logging"
	"github.com/imamik/fleetrun/internal/metrics"
	"github.com/imamik/fleetrun/internal/node"
	"github.com/imamik/fleetrun/internal/platform/ec2"
	"github.com/imamik/fleetrun/internal/platform/hcloud"
	"github.com/imamik/fleetrun/internal/platform/s3"
	"github.com/imamik/fleetrun/internal/platform/ssh"
	"github.com/imamik/fleetrun/internal/probe"
	"github.com/imamik/fleetrun/internal/provisioning"
	"github.com/imamik/fleetrun/internal/trust"
	"github.com/imamik/fleetrun/internal/util/async"
	"github.com/imamik/fleetrun/internal/util/naming"
)

// Globals are the flags every command shares.
type Globals struct {
	Verbosity   int
	LogFormat   string
	MetricsAddr string
}

// Stager moves artifacts and logs between the orchestrator and an object
// store.
type Stager interface {
	Stage(ctx context.Context, url, dir string, recursive bool) (string, error)
	Publish(ctx context.Context, local, url string) (string, error)
}

// Factory function variables - can be replaced in tests.
var (
	loadConfig      = config.LoadFile
	loadCredentials = config.LoadCredentials
	loadTimeouts    = config.LoadTimeouts

	// newBackend returns nil for clusters without a backend.
	newBackend = func(ctx context.Context, cfg *config.Config, creds config.Credentials, t *config.Timeouts, log logr.Logger) (provisioning.Backend, error) {
		switch cfg.Backend {
		case config.BackendHCloud:
			token, err := creds.HCloudToken()
			if err != nil {
				return nil, err
			}
			return hcloud.NewClient(token, cfg.Name,
				hcloud.WithTimeouts(t),
				hcloud.WithLocation(cfg.HCloud.Location),
				hcloud.WithNetwork(cfg.HCloud.Network),
				hcloud.WithLogger(log),
			), nil
		case config.BackendEC2:
			access, secret := creds.AWSKeys()
			url := cfg.EC2.Endpoint
			if url == "" {
				url = creds.EC2Endpoint()
			}
			return ec2.NewClient(ctx, ec2.Endpoint{Region: cfg.EC2.Region, URL: url, AccessKey: access, SecretKey: secret},
				cfg.Name, ec2.WithTimeouts(t), ec2.WithLogger(log))
		default:
			return nil, nil
		}
	}

	newStager = func(cfg *config.Config, creds config.Credentials) (Stager, error) {
		access, secret := creds.AWSKeys()
		return s3.NewClient(cfg.S3.Endpoint, cfg.S3.Region, access, secret)
	}

	newRemoteNode = ssh.NewNode
	newLocalNode  = node.NewLocal

	// stdout is where reports are printed.
	stdout io.Writer = os.Stdout
)

// session is the state one command works on.
type session struct {
	cfg      *config.Config
	creds    config.Credentials
	timeouts *config.Timeouts
	log      logr.Logger
	metrics  *metrics.Metrics
	backend  provisioning.Backend
	cluster  *cluster.Cluster
	prober   *probe.Prober
	trust    *trust.Manager

	// metricsAddr is where the metrics server listens, if one runs.
	metricsAddr string
	closers     []func()
}

func openSession(ctx context.Context, g Globals, configPath string) (*session, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, flush := logging.New(logging.Options{Verbosity: g.Verbosity, Format: logging.Format(g.LogFormat)})
	s := &session{cfg: cfg, log: log.WithValues("cluster", cfg.Name), closers: []func(){flush}}

	s.creds, err = loadCredentials(cfg.Credentials)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.timeouts = loadTimeouts()
	s.metrics = metrics.New()
	if g.MetricsAddr != "" {
		if err := s.serveMetrics(g.MetricsAddr); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.backend, err = newBackend(ctx, cfg, s.creds, s.timeouts, s.log.WithName("backend"))
	if err != nil {
		s.Close()
		return nil, err
	}

	local := newLocalNode(s.log.WithName("local"))
	s.cluster = cluster.New(local,
		cluster.WithInstanceLog(cfg.InstanceLog),
		cluster.WithHostPrefix(cfg.HostPrefix),
		cluster.WithMetrics(s.metrics),
		cluster.WithLogger(s.log.WithName("cluster")),
	)
	s.prober = probe.New(s.log.WithName("probe"), s.metrics)
	s.trust = trust.New(s.log.WithName("trust"))
	return s, nil
}

// serveMetrics exposes the session's registry until the session closes.
func (s *session) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fault.Wrapf(fault.Configuration, err, "failed to listen on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(err, "metrics server stopped")
		}
	}()
	s.metricsAddr = ln.Addr().String()
	s.log.Info("serving metrics", "address", s.metricsAddr)
	s.closers = append(s.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return nil
}

// Close releases the session's resources in reverse order.
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// provisioner drives the session's backend.
func (s *session) provisioner() (*provisioning.Provisioner, error) {
	if s.backend == nil {
		return nil, fault.New(fault.Configuration, "cluster %s has no backend", s.cfg.Name)
	}
	return provisioning.New(s.backend,
		provisioning.WithSettings(s.timeouts.Settings()),
		provisioning.WithObserver(provisioning.NewLogObserver(s.log.WithName("provisioning"))),
		provisioning.WithMetrics(s.metrics),
		provisioning.WithProber(s.prober),
		provisioning.WithHostSequence(s.cluster.Hosts, s.cfg.HostPrefix),
	), nil
}

// cloudNode returns the node a provisioned instance is driven through.
func (s *session) cloudNode(inst *provisioning.Instance) (*node.Node, error) {
	opts := []node.Option{node.AsCloud(), node.WithHostname(inst.Name), node.WithLogger(s.log.WithName("node"))}
	if inst.ExternalAddress != "" && inst.ExternalAddress != inst.Address {
		opts = append(opts, node.WithExternalAddress(inst.ExternalAddress))
	}
	user := inst.User
	if user == "" {
		user = s.cfg.Provision.User
	}
	if user == "" {
		user = provisioning.LoginUser(inst.Image)
	}
	return newRemoteNode(inst.Address, user, s.cfg.Key.Path, s.cfg.SSHEscalation(), opts...)
}

// load adds the adopted nodes of the cluster file and the cloud nodes of
// the instance log to the cluster. Every node is discovered on the way.
func (s *session) load(ctx context.Context) error {
	addrs, err := s.cluster.InstanceLog.Read()
	if err != nil && !fault.IsNotFound(err) {
		return err
	}
	if len(addrs) > 0 && s.backend == nil {
		return fault.New(fault.Configuration, "%s lists %d instances but cluster %s has no backend",
			s.cluster.InstanceLog.Path(), len(addrs), s.cfg.Name)
	}

	// Slots keep config and log order regardless of which lookup finishes first.
	nodes := make([]*node.Node, len(s.cfg.Nodes)+len(addrs))
	var tasks []async.Task
	for i, nc := range s.cfg.Nodes {
		tasks = append(tasks, async.Task{
			Name: nc.Address,
			Func: func(context.Context) error {
				opts := []node.Option{node.WithLogger(s.log.WithName("node"))}
				if nc.ExternalAddress != "" {
					opts = append(opts, node.WithExternalAddress(nc.ExternalAddress))
				}
				user := nc.User
				if user == "" {
					user = node.CurrentUser()
				}
				n, err := newRemoteNode(nc.Address, user, nc.Key, s.cfg.SSHEscalation(), opts...)
				nodes[i] = n
				return err
			},
		})
	}
	for i, addr := range addrs {
		slot := len(s.cfg.Nodes) + i
		tasks = append(tasks, async.Task{
			Name: addr,
			Func: func(ctx context.Context) error {
				inst, err := s.backend.Lookup(ctx, addr)
				if err != nil {
					return err
				}
				n, err := s.cloudNode(inst)
				nodes[slot] = n
				return err
			},
		})
	}

	if err := async.RunParallel(ctx, tasks); err != nil {
		return fmt.Errorf("failed to load cluster nodes: %w", err)
	}
	if err := s.cluster.AddRemoteNodes(ctx, nodes...); err != nil {
		return fmt.Errorf("failed to load cluster nodes: %w", err)
	}
	for _, n := range s.cluster.CloudNodes() {
		if num, ok := naming.HostNumber(s.cfg.HostPrefix, n.Hostname); ok {
			s.cluster.Hosts.Advance(num)
		}
	}
	return nil
}
