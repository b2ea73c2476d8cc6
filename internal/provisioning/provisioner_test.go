package provisioning_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/metrics"
	"github.com/imamik/fleetrun/internal/provisioning"
	"github.com/imamik/fleetrun/internal/util/naming"
)

func onDemand(count int) provisioning.Request {
	return provisioning.Request{Count: count, Image: "ubuntu-24.04", Flavor: "cx22"}
}

func TestProvision_InstancesBecomeActive(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	m := metrics.New()
	p := provisioning.New(b, provisioning.WithSettings(fastSettings()), provisioning.WithMetrics(m))

	res, err := p.Provision(context.Background(), onDemand(3))
	require.NoError(t, err)

	require.Len(t, res.Ready, 3)
	assert.Empty(t, res.Failed)
	for _, inst := range res.Ready {
		assert.Equal(t, provisioning.StateActive, inst.State)
		assert.Equal(t, "ubuntu", inst.User)
		assert.Equal(t, "ubuntu-24.04", inst.Image)
	}
	require.Len(t, b.createOps, 1)
	assert.Equal(t, []string{"ofsnode-001", "ofsnode-002", "ofsnode-003"}, b.createOps[0].Names)
	assert.NotEmpty(t, b.createOps[0].ClientToken)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.InstancesTotal.WithLabelValues("fake", "active")))
}

func TestProvision_ResolvesImageByID(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	p := provisioning.New(b, provisioning.WithSettings(fastSettings()))

	req := onDemand(1)
	req.Image = "img-2"
	res, err := p.Provision(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Ready, 1)
	assert.Equal(t, "fedora", res.Ready[0].User)
}

func TestProvision_UserOverride(t *testing.T) {
	t.Parallel()
	p := provisioning.New(newFakeBackend(), provisioning.WithSettings(fastSettings()))

	req := onDemand(1)
	req.User = "admin"
	res, err := p.Provision(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "admin", res.Ready[0].User)
}

func TestProvision_StuckInstanceIsAbandoned(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	b.stateFor["i-2"] = []provisioning.State{provisioning.StatePending}
	obs := &recordingObserver{}
	p := provisioning.New(b, provisioning.WithSettings(fastSettings()), provisioning.WithObserver(obs))

	res, err := p.Provision(context.Background(), onDemand(3))
	require.NoError(t, err)

	require.Len(t, res.Ready, 2)
	require.Len(t, res.Failed, 1)
	stuck := res.Failed[0]
	assert.Equal(t, "i-2", stuck.ID)
	assert.Equal(t, provisioning.StateFailed, stuck.State)
	assert.Contains(t, stuck.FailReason, "gave up waiting")
	assert.Equal(t, 5, b.pollCount("i-2"), "polled exactly MaxPollAttempts times")
	assert.Len(t, obs.ofType(provisioning.EventResourceFailed), 1)
}

func TestProvision_TerminatedInstanceFailsWithoutWaiting(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	b.states = []provisioning.State{provisioning.StatePending, provisioning.StateTerminated}
	p := provisioning.New(b, provisioning.WithSettings(fastSettings()))

	res, err := p.Provision(context.Background(), onDemand(1))
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 2, b.pollCount("i-1"))
	assert.Contains(t, res.Failed[0].FailReason, "terminated")
}

func TestProvision_ActiveIsNeverPendingAgain(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	b.states = []provisioning.State{provisioning.StateActive, provisioning.StatePending}
	p := provisioning.New(b, provisioning.WithSettings(fastSettings()))

	res, err := p.Provision(context.Background(), onDemand(1))
	require.NoError(t, err)
	require.Len(t, res.Ready, 1)
	assert.Equal(t, provisioning.StateActive, res.Ready[0].State)
	assert.Equal(t, 1, b.pollCount("i-1"))
}

func TestProvision_Errors(t *testing.T) {
	t.Parallel()

	t.Run("invalid request", func(t *testing.T) {
		t.Parallel()
		b := newFakeBackend()
		_, err := provisioning.New(b).Provision(context.Background(), provisioning.Request{Image: "x", Flavor: "y"})
		assert.True(t, fault.Is(err, fault.Configuration))
		assert.Empty(t, b.createOps)
	})

	t.Run("unknown image", func(t *testing.T) {
		t.Parallel()
		b := newFakeBackend()
		req := onDemand(1)
		req.Image = "arch"
		_, err := provisioning.New(b).Provision(context.Background(), req)
		assert.True(t, fault.Is(err, fault.Provisioning))
		assert.Contains(t, err.Error(), "image arch not found")
		assert.Empty(t, b.createOps)
	})

	t.Run("create rejected", func(t *testing.T) {
		t.Parallel()
		b := newFakeBackend()
		b.createErr = errors.New("quota exceeded")
		_, err := provisioning.New(b).Provision(context.Background(), onDemand(2))
		assert.True(t, fault.Is(err, fault.Provisioning))
		assert.Contains(t, err.Error(), "quota exceeded")
	})
}

func TestProvision_ExternalAddresses(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	b.assocErr["i-1"] = errors.New("pool exhausted")
	p := provisioning.New(b, provisioning.WithSettings(fastSettings()))

	req := onDemand(2)
	req.AssociateExternalIP = true
	res, err := p.Provision(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, res.Ready, 1)
	assert.Equal(t, "203.0.113.2", res.Ready[0].ExternalAddress)
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed[0].FailReason, "pool exhausted")
}

func TestProvision_SharedHostSequence(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	seq := naming.NewSequence(4)
	p := provisioning.New(b, provisioning.WithSettings(fastSettings()), provisioning.WithHostSequence(seq, "bench"))

	req := onDemand(2)
	req.NameSuffix = "-x"
	_, err := p.Provision(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"bench-005-x", "bench-006-x"}, b.createOps[0].Names)
	assert.Equal(t, 6, seq.Current())
}
