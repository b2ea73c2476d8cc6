package handlers

import (
	"bytes"
	"context"
	"path"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-logr/logr"

	"github.com/imamik/fleetrun/internal/config"
	"github.com/imamik/fleetrun/internal/node"
	"github.com/imamik/fleetrun/internal/platform/ssh"
	"github.com/imamik/fleetrun/internal/provisioning"
	fleettest "github.com/imamik/fleetrun/internal/testing"
	"github.com/imamik/fleetrun/internal/util/keygen"
)

const testKeyPath = "/keys/cluster-key"

// testEnv replaces the factory variables with fakes for one test.
type testEnv struct {
	cfg       *config.Config
	backend   *fleettest.MockBackend
	local     *node.Node
	localExec *fleettest.FakeExecutor
	stager    *fakeStager
	out       *bytes.Buffer

	mu        sync.Mutex
	execs     map[string]*fleettest.FakeExecutor
	hostnames map[string]string
	rules     map[string][]func(*fleettest.FakeExecutor)
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	local, localExec := fleettest.NewLocalNode()
	e := &testEnv{
		cfg:       cfg,
		local:     local,
		localExec: localExec,
		stager:    &fakeStager{},
		out:       &bytes.Buffer{},
		execs:     map[string]*fleettest.FakeExecutor{},
		hostnames: map[string]string{},
		rules:     map[string][]func(*fleettest.FakeExecutor){},
	}

	origLoadConfig := loadConfig
	origLoadTimeouts := loadTimeouts
	origNewBackend := newBackend
	origNewStager := newStager
	origNewRemoteNode := newRemoteNode
	origNewLocalNode := newLocalNode
	origLoadKey := loadKey
	origStdout := stdout
	t.Cleanup(func() {
		loadConfig = origLoadConfig
		loadTimeouts = origLoadTimeouts
		newBackend = origNewBackend
		newStager = origNewStager
		newRemoteNode = origNewRemoteNode
		newLocalNode = origNewLocalNode
		loadKey = origLoadKey
		stdout = origStdout
	})

	loadConfig = func(string) (*config.Config, error) { return cfg, nil }
	loadTimeouts = config.TestTimeouts
	newBackend = func(context.Context, *config.Config, config.Credentials, *config.Timeouts, logr.Logger) (provisioning.Backend, error) {
		if e.backend == nil {
			return nil, nil
		}
		return e.backend, nil
	}
	newStager = func(*config.Config, config.Credentials) (Stager, error) { return e.stager, nil }
	newRemoteNode = func(host, user, keyPath string, _ ssh.Escalation, opts ...node.Option) (*node.Node, error) {
		opts = append([]node.Option{node.WithKey(keyPath)}, opts...)
		return node.New(host, user, e.exec(host), opts...), nil
	}
	newLocalNode = func(logr.Logger, ...node.Option) *node.Node { return e.local }
	loadKey = func(string, int) (*keygen.KeyPair, bool, error) {
		return &keygen.KeyPair{PublicKey: []byte("ssh-rsa AAAA bench")}, false, nil
	}
	stdout = e.out
	return e
}

// withBackend makes the session use a mock backend.
func (e *testEnv) withBackend() *fleettest.MockBackend {
	e.backend = &fleettest.MockBackend{}
	return e.backend
}

// on adds a rule to the executor of host once it is created.
func (e *testEnv) on(host string, rule func(*fleettest.FakeExecutor)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[host] = append(e.rules[host], rule)
}

// exec returns the executor behind host. Discovery reports the hostname
// set for host, or "node-<host>".
func (e *testEnv) exec(host string) *fleettest.FakeExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ex, ok := e.execs[host]; ok {
		return ex
	}
	ex := fleettest.NewFakeExecutor(host)
	for _, rule := range e.rules[host] {
		rule(ex)
	}
	hostname := e.hostnames[host]
	if hostname == "" {
		hostname = "node-" + host
	}
	ex.On("uname -r", node.Result{Stdout: hostname + "\n6.8.0\nx86_64\n4\nUbuntu 24.04 LTS\n"})
	ex.On("awk '{print $4}'", node.Result{Stdout: "ubuntu\n"})
	e.execs[host] = ex
	return ex
}

// baseConfig returns a cluster of adopted nodes without a backend.
func baseConfig(t *testing.T, addrs ...string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Name:        "bench",
		Backend:     config.BackendNone,
		HostPrefix:  "bench",
		InstanceLog: filepath.Join(t.TempDir(), "cloudnodes.lst"),
		Escalation:  "login",
		Key:         config.KeyConfig{Path: testKeyPath, Name: "bench-key"},
	}
	for _, a := range addrs {
		cfg.Nodes = append(cfg.Nodes, config.NodeConfig{Address: a, User: "ubuntu", Key: testKeyPath})
	}
	return cfg
}

type fakeStager struct {
	mu        sync.Mutex
	staged    []string
	published []string
}

func (f *fakeStager) Stage(_ context.Context, url, dir string, _ bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged = append(f.staged, url)
	return filepath.Join(dir, path.Base(url)), nil
}

func (f *fakeStager) Publish(_ context.Context, local, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dst := url + filepath.Base(local)
	f.published = append(f.published, dst)
	return dst, nil
}
