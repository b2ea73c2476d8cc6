package handlers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/imamik/fleetrun/internal/config"
	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/provisioning"
)

func destroyConfig(t *testing.T, addrs ...string) *config.Config {
	t.Helper()
	cfg := baseConfig(t)
	cfg.Backend = config.BackendEC2
	var data string
	for _, a := range addrs {
		data += a + "\n"
	}
	require.NoError(t, os.WriteFile(cfg.InstanceLog, []byte(data), 0o600))
	return cfg
}

func TestDestroy(t *testing.T) {
	cfg := destroyConfig(t, "10.1.0.1", "10.1.0.2")
	env := newTestEnv(t, cfg)
	b := env.withBackend()

	inst := &provisioning.Instance{ID: "i-1", Address: "10.1.0.1"}
	b.On("Lookup", mock.Anything, "10.1.0.1").Return(inst, nil)
	b.On("Lookup", mock.Anything, "10.1.0.2").Return(nil, fault.New(fault.NotFound, "no instance with address 10.1.0.2"))
	b.On("Terminate", mock.Anything, inst).Return(nil).Once()
	b.On("ReleaseExternalIPs", mock.Anything).Return(1, nil).Once()
	b.On("UnregisterKey", mock.Anything, "bench-key").Return(nil).Once()

	require.NoError(t, Destroy(context.Background(), Globals{}, "fleetrun.yaml", DestroyOptions{}))
	b.AssertExpectations(t)

	_, err := os.Stat(cfg.InstanceLog)
	assert.True(t, os.IsNotExist(err), "instance log should be cleared")
}

func TestDestroy_KeepsListOnFailure(t *testing.T) {
	cfg := destroyConfig(t, "10.1.0.1")
	env := newTestEnv(t, cfg)
	b := env.withBackend()

	inst := &provisioning.Instance{ID: "i-1", Address: "10.1.0.1"}
	b.On("Lookup", mock.Anything, "10.1.0.1").Return(inst, nil)
	b.On("Terminate", mock.Anything, inst).Return(fault.New(fault.Transport, "connection reset"))

	err := Destroy(context.Background(), Globals{}, "fleetrun.yaml", DestroyOptions{})
	require.Error(t, err)
	assert.True(t, fault.IsTransport(err))
	b.AssertNotCalled(t, "ReleaseExternalIPs", mock.Anything)

	data, err := os.ReadFile(cfg.InstanceLog)
	require.NoError(t, err)
	assert.Equal(t, "10.1.0.1\n", string(data))
}

func TestDestroy_Stop(t *testing.T) {
	cfg := destroyConfig(t, "10.1.0.1")
	env := newTestEnv(t, cfg)
	b := env.withBackend()

	inst := &provisioning.Instance{ID: "i-1", Address: "10.1.0.1"}
	b.On("Lookup", mock.Anything, "10.1.0.1").Return(inst, nil)
	b.On("Stop", mock.Anything, inst).Return(nil).Once()

	require.NoError(t, Destroy(context.Background(), Globals{}, "fleetrun.yaml", DestroyOptions{Stop: true}))
	b.AssertExpectations(t)
	b.AssertNotCalled(t, "Terminate", mock.Anything, mock.Anything)

	_, err := os.Stat(cfg.InstanceLog)
	assert.NoError(t, err, "stopping keeps the instance log")
}

func TestDestroy_FromList(t *testing.T) {
	cfg := destroyConfig(t)
	env := newTestEnv(t, cfg)
	b := env.withBackend()

	list := filepath.Join(t.TempDir(), "old.lst")
	require.NoError(t, os.WriteFile(list, []byte("10.2.0.9\n"), 0o600))
	inst := &provisioning.Instance{ID: "i-9", Address: "10.2.0.9"}
	b.On("Lookup", mock.Anything, "10.2.0.9").Return(inst, nil)
	b.On("Terminate", mock.Anything, inst).Return(nil).Once()
	b.On("ReleaseExternalIPs", mock.Anything).Return(0, nil)
	b.On("UnregisterKey", mock.Anything, "bench-key").Return(nil)

	require.NoError(t, Destroy(context.Background(), Globals{}, "fleetrun.yaml", DestroyOptions{FromList: list}))
	b.AssertExpectations(t)

	_, err := os.Stat(list)
	assert.True(t, os.IsNotExist(err))

	err = Destroy(context.Background(), Globals{}, "fleetrun.yaml", DestroyOptions{FromList: list})
	require.Error(t, err)
	assert.True(t, fault.IsNotFound(err))
}

func TestDestroy_NoBackend(t *testing.T) {
	newTestEnv(t, baseConfig(t, "10.0.0.1"))

	err := Destroy(context.Background(), Globals{}, "fleetrun.yaml", DestroyOptions{})
	require.Error(t, err)
	assert.Equal(t, fault.Configuration, fault.KindOf(err))
}
