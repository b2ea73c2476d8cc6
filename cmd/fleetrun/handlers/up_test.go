package handlers

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/imamik/fleetrun/internal/config"
	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/node"
	"github.com/imamik/fleetrun/internal/provisioning"
	fleettest "github.com/imamik/fleetrun/internal/testing"
)

func provisionConfig(t *testing.T, count int) *config.Config {
	t.Helper()
	cfg := baseConfig(t, "10.0.0.50")
	cfg.Backend = config.BackendHCloud
	cfg.Provision = config.ProvisionConfig{Count: count, Image: "ubuntu-24.04", Flavor: "cx22"}
	cfg.Artifacts = []config.ArtifactConfig{{Source: "/srv/suite.tar", Destination: "/opt/suite.tar"}}
	return cfg
}

func instances(names ...string) []*provisioning.Instance {
	insts := make([]*provisioning.Instance, len(names))
	for i, name := range names {
		n := string(rune('1' + i))
		insts[i] = &provisioning.Instance{
			ID:              "i-" + n,
			Name:            name,
			Address:         "10.1.0." + n,
			ExternalAddress: "198.51.100." + n,
		}
	}
	return insts
}

func TestUp_ProvisionsAndAdopts(t *testing.T) {
	cfg := provisionConfig(t, 2)
	env := newTestEnv(t, cfg)
	env.hostnames["10.1.0.1"] = "bench-001"
	env.hostnames["10.1.0.2"] = "bench-002"
	b := env.withBackend()

	image := provisioning.Image{ID: "img-1", Name: "ubuntu-24.04"}
	b.On("RegisterKey", mock.Anything, "bench-key", "ssh-rsa AAAA bench").Return(nil).Once()
	b.On("ListImages", mock.Anything).Return([]provisioning.Image{image}, nil)
	b.On("CreateInstances", mock.Anything, 2, image, "cx22", mock.MatchedBy(func(o provisioning.CreateOptions) bool {
		return assert.ObjectsAreEqual([]string{"bench-001", "bench-002"}, o.Names) && o.KeyName == "bench-key"
	})).Return(instances("bench-001", "bench-002"), nil).Once()
	b.On("PollState", mock.Anything, mock.Anything).Return(provisioning.StateActive, nil)

	require.NoError(t, Up(context.Background(), Globals{}, "fleetrun.yaml"))
	b.AssertExpectations(t)

	data, err := os.ReadFile(cfg.InstanceLog)
	require.NoError(t, err)
	assert.Equal(t, "10.1.0.1\n10.1.0.2\n", string(data))

	// hostnames follow the instance names
	assert.Equal(t, 1, env.exec("10.1.0.1").Count("hostname bench-001 &&"))
	assert.Equal(t, 1, env.exec("10.1.0.2").Count("hostname bench-002 &&"))

	// every node received the orchestrator key and the artifact
	assert.Equal(t, 3, env.localExec.Count(":.ssh/'"))
	artifacts := env.localExec.Count("'/srv/suite.tar' ")
	for _, addr := range []string{"10.0.0.50", "10.1.0.1", "10.1.0.2"} {
		artifacts += env.exec(addr).Count("'/opt/suite.tar' ")
	}
	assert.Equal(t, 3, artifacts)

	out := env.out.String()
	assert.Contains(t, out, "bench-001")
	assert.Contains(t, out, "node-10.0.0.50")
	assert.Contains(t, out, "Round 1")
}

func TestUp_TerminatesUnreachableInstances(t *testing.T) {
	cfg := provisionConfig(t, 2)
	cfg.Artifacts = nil
	env := newTestEnv(t, cfg)
	env.on("10.1.0.2", func(ex *fleettest.FakeExecutor) {
		ex.OnError("whoami", errors.New("connection refused"))
	})
	b := env.withBackend()

	image := provisioning.Image{ID: "img-1", Name: "ubuntu-24.04"}
	insts := instances("bench-001", "bench-002")
	b.On("RegisterKey", mock.Anything, "bench-key", mock.Anything).Return(nil)
	b.On("ListImages", mock.Anything).Return([]provisioning.Image{image}, nil)
	b.On("CreateInstances", mock.Anything, 2, image, "cx22", mock.Anything).Return(insts, nil)
	b.On("PollState", mock.Anything, mock.Anything).Return(provisioning.StateActive, nil)
	b.On("Terminate", mock.Anything, insts[1]).Return(nil).Once()

	require.NoError(t, Up(context.Background(), Globals{}, "fleetrun.yaml"))
	b.AssertExpectations(t)

	data, err := os.ReadFile(cfg.InstanceLog)
	require.NoError(t, err)
	assert.Equal(t, "10.1.0.1\n", string(data))
	assert.Equal(t, provisioning.StateFailed, insts[1].State)
}

func TestUp_CreateFailure(t *testing.T) {
	env := newTestEnv(t, provisionConfig(t, 1))
	b := env.withBackend()
	b.On("RegisterKey", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	b.On("ListImages", mock.Anything).Return([]provisioning.Image{{ID: "img-1", Name: "ubuntu-24.04"}}, nil)
	b.On("CreateInstances", mock.Anything, 1, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fault.New(fault.Provisioning, "quota exceeded"))

	err := Up(context.Background(), Globals{}, "fleetrun.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, fault.Provisioning, fault.KindOf(err))
}

func TestUp_AdoptedOnly(t *testing.T) {
	env := newTestEnv(t, baseConfig(t, "10.0.0.1", "10.0.0.2"))
	env.localExec.On("ping -c 1 -W 2 10.0.0.2", node.Result{ExitCode: 1})

	// the orchestrator never reaches 10.0.0.2
	err := Up(context.Background(), Globals{}, "fleetrun.yaml")
	require.Error(t, err)
	assert.True(t, fault.IsTransport(err))

	// trust was established before the connectivity check
	assert.Equal(t, 2, env.localExec.Count(":.ssh/'"))
	assert.Equal(t, 1, env.exec("10.0.0.1").Count("ssh-keyscan -T 5 node-10.0.0.2 "))
}

func TestUp_ConfigError(t *testing.T) {
	newTestEnv(t, nil)
	loadConfig = func(string) (*config.Config, error) {
		return nil, fault.New(fault.Configuration, "name is required")
	}
	err := Up(context.Background(), Globals{}, "fleetrun.yaml")
	require.Error(t, err)
	assert.Equal(t, fault.Configuration, fault.KindOf(err))
}
