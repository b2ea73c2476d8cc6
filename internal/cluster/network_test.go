package cluster

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/node"
	"github.com/imamik/fleetrun/internal/probe"
	"github.com/imamik/fleetrun/internal/util/retry"
)

func TestCheckNetwork_AllPairs(t *testing.T) {
	t.Parallel()
	c, execs, _ := newTestCluster(t, 4)
	execs[0].On("ping -c 1 -W 2 10.0.0.3", node.Result{ExitCode: 1})
	execs[3].On("ping -c 1 -W 2 10.0.0.3", node.Result{ExitCode: 1})

	failures, report := c.CheckNetwork(context.Background())
	assert.Equal(t, 2, failures)
	assert.Zero(t, report.Failures())
	for i, exec := range execs {
		assert.Equal(t, 3, exec.Count("ping -c 1"), "node %d", i)
		assert.Zero(t, exec.Count(fmt.Sprintf("10.0.0.%d >", i+1)), "node %d pinged itself", i)
	}
}

func TestCheckNetwork_TransportErrorIsReported(t *testing.T) {
	t.Parallel()
	c, execs, _ := newTestCluster(t, 3)
	execs[1].OnError("ping", fault.New(fault.Transport, "broken pipe"))

	_, report := c.CheckNetwork(context.Background())
	require.Equal(t, 1, report.Failures())
	assert.Equal(t, "10.0.0.2", report.Failed()[0].Node.Address)
}

func TestCheckExternalConnectivity(t *testing.T) {
	t.Parallel()
	c, _, localExec := newTestCluster(t, 3)
	localExec.On("203.0.113.3", node.Result{ExitCode: 1})

	failures, err := c.CheckExternalConnectivity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failures)
	assert.Equal(t, 3, localExec.Count("ping -c 1"))
}

func TestWaitExternalConnectivity(t *testing.T) {
	t.Parallel()
	c, _, localExec := newTestCluster(t, 2)
	localExec.On("203.0.113.2", node.Result{ExitCode: 1})

	err := c.WaitExternalConnectivity(context.Background(), probe.New(logr.Discard(), nil), retry.Poller{MaxAttempts: 3})
	require.Error(t, err)
	assert.True(t, fault.IsTransport(err))
	assert.Equal(t, 3, localExec.Count("203.0.113.2"))
}

func TestUpdateEtcHosts(t *testing.T) {
	t.Parallel()
	c, execs, _ := newTestCluster(t, 3)

	report := c.UpdateEtcHosts(context.Background())
	require.NoError(t, report.Err())

	calls := execs[0].Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, node.Root, calls[0].User)
	assert.Equal(t,
		`(grep -q '^10.0.0.2 ' /etc/hosts || echo '10.0.0.2 ofsnode-002' >> /etc/hosts) && `+
			`(grep -q '^10.0.0.3 ' /etc/hosts || echo '10.0.0.3 ofsnode-003' >> /etc/hosts)`,
		calls[0].Text)
}
