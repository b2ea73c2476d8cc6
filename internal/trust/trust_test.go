package trust

import (
	"context"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/node"
	fleettest "github.com/imamik/fleetrun/internal/testing"
)

func TestSeedKnownHosts_FourNodes(t *testing.T) {
	t.Parallel()
	nodes, execs := fleettest.NewNodes(4)

	scans, err := New(logr.Discard()).SeedKnownHosts(context.Background(), nodes)
	require.NoError(t, err)

	// 4 nodes x (localhost + 127.0.0.1 + 3 peers x 3 identities)
	assert.Equal(t, 44, scans)

	peerScans := 0
	for i, exec := range execs {
		assert.Equal(t, 11, exec.Count("ssh-keyscan"))
		for j, peer := range nodes {
			for _, id := range []string{peer.Hostname, peer.Address, peer.ExternalAddress} {
				got := exec.Count("ssh-keyscan -T 5 " + id + " ")
				if i == j {
					assert.Zero(t, got, "node %d must not scan itself by %s", i, id)
					continue
				}
				assert.Equal(t, 1, got, "node %d scanning %s", i, id)
				peerScans += got
			}
		}
	}
	assert.Equal(t, 36, peerScans)
}

func TestSeedKnownHosts_FailureOnOneNodeDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	nodes, execs := fleettest.NewNodes(3)
	execs[1].OnError("ssh-keyscan", fault.New(fault.Transport, "connection reset"))

	_, err := New(logr.Discard()).SeedKnownHosts(context.Background(), nodes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ofsnode-002")
	assert.Equal(t, 8, execs[0].Count("ssh-keyscan"))
	assert.Equal(t, 8, execs[2].Count("ssh-keyscan"))
}

func TestUploadKeys_RecordsEveryPeer(t *testing.T) {
	t.Parallel()
	local, localExec := fleettest.NewLocalNode()
	nodes, execs := fleettest.NewNodes(3)

	require.NoError(t, New(logr.Discard()).UploadKeys(context.Background(), local, nodes))

	for i, n := range nodes {
		for _, peer := range nodes {
			k, ok := n.Keys.Get(peer.ExternalAddress)
			require.True(t, ok)
			assert.Equal(t, "/home/ubuntu/.ssh/cluster-key", k)
			_, ok = n.Keys.Get(peer.Address)
			assert.True(t, ok)
		}
		// All peers share one key, so it is copied once per node.
		assert.Equal(t, 1, execs[i].Count("command -v rsync"))
		assert.Equal(t, 1, localExec.Count("ubuntu@"+n.ExternalAddress+":.ssh/"))
	}
}

func TestRecordKeys_MatchesUploadKeys(t *testing.T) {
	t.Parallel()
	nodes, execs := fleettest.NewNodes(3)
	nodes[2].KeyPath = "/keys/other-key"

	New(logr.Discard()).RecordKeys(nodes)

	for i, n := range nodes {
		k, ok := n.Keys.Get(nodes[0].Address)
		require.True(t, ok)
		assert.Equal(t, "/home/ubuntu/.ssh/cluster-key", k)
		k, ok = n.Keys.Get(nodes[2].ExternalAddress)
		require.True(t, ok)
		assert.Equal(t, "/home/ubuntu/.ssh/other-key", k)
		assert.Empty(t, execs[i].Calls())
	}
}

func TestUploadKeys_CopyFailure(t *testing.T) {
	t.Parallel()
	local, localExec := fleettest.NewLocalNode()
	nodes, _ := fleettest.NewNodes(2)
	localExec.On("203.0.113.2", node.Result{ExitCode: 12, Stderr: "connection unexpectedly closed"})

	err := New(logr.Discard()).UploadKeys(context.Background(), local, nodes)
	require.Error(t, err)
	assert.True(t, fault.IsTransport(err))
	_, ok := nodes[0].Keys.Get("203.0.113.1")
	assert.True(t, ok)
}

func TestUploadNodeKey(t *testing.T) {
	t.Parallel()
	local, _ := fleettest.NewLocalNode()
	n, exec := fleettest.NewNode("10.0.0.9", node.WithExternalAddress("203.0.113.9"))

	require.NoError(t, New(logr.Discard()).UploadNodeKey(context.Background(), local, n))

	k, ok := n.Keys.Get("203.0.113.9")
	require.True(t, ok)
	assert.Equal(t, "/home/ubuntu/.ssh/cluster-key", k)
	assert.Equal(t, 1, exec.Count("ln -s '/home/ubuntu/.ssh/cluster-key' ~/.ssh/id_rsa"))
}

func TestEnsureLoginAccess(t *testing.T) {
	t.Parallel()

	t.Run("user owns keys on cloud node mirrors to root", func(t *testing.T) {
		t.Parallel()
		nodes, execs := fleettest.NewNodes(1)
		execs[0].On("ls -l /home/", node.Result{Stdout: "ubuntu\n"})

		require.NoError(t, New(logr.Discard()).EnsureLoginAccess(context.Background(), nodes[0]))
		assert.Equal(t, "ubuntu", nodes[0].Group)
		assert.Equal(t, 1, execs[0].Count("sudo /bin/cp -r /home/ubuntu/.ssh /root/"))
	})

	t.Run("only root authorized copies and reowns", func(t *testing.T) {
		t.Parallel()
		// Lookups as the user return nothing; as root they return the group.
		userExec := fleettest.NewFakeExecutor("10.0.0.1")
		rootExec := fleettest.NewFakeExecutor("10.0.0.1")
		rootExec.On("ls -l /home/", node.Result{Stdout: "users\n"})
		n := node.New("10.0.0.1", "ubuntu", byUser{user: userExec, root: rootExec})

		require.NoError(t, New(logr.Discard()).EnsureLoginAccess(context.Background(), n))
		assert.Equal(t, "users", n.Group)
		assert.Equal(t, 2, userExec.Count("| awk"))
		assert.Equal(t, 1, rootExec.Count("cp -r /root/.ssh /home/ubuntu/ && chown -R ubuntu:users /home/ubuntu/.ssh"))
	})

	t.Run("user cannot log in falls back to root", func(t *testing.T) {
		t.Parallel()
		userExec := fleettest.NewFakeExecutor("10.0.0.1")
		userExec.OnError("", fault.New(fault.Transport, "unable to authenticate as ubuntu"))
		rootExec := fleettest.NewFakeExecutor("10.0.0.1")
		rootExec.On("ls -l /home/", node.Result{Stdout: "ubuntu\n"})
		n := node.New("10.0.0.1", "ubuntu", byUser{user: userExec, root: rootExec})

		require.NoError(t, New(logr.Discard()).EnsureLoginAccess(context.Background(), n))
		assert.Equal(t, "ubuntu", n.Group)
		assert.Equal(t, 1, rootExec.Count("cp -r /root/.ssh /home/ubuntu/ && chown -R ubuntu:ubuntu /home/ubuntu/.ssh"))
	})

	t.Run("user and root lookups both fail", func(t *testing.T) {
		t.Parallel()
		userExec := fleettest.NewFakeExecutor("10.0.0.1")
		userExec.OnError("", fault.New(fault.Transport, "unable to authenticate as ubuntu"))
		rootExec := fleettest.NewFakeExecutor("10.0.0.1")
		rootExec.OnError("", fault.New(fault.Transport, "unable to authenticate as root"))
		n := node.New("10.0.0.1", "ubuntu", byUser{user: userExec, root: rootExec})

		err := New(logr.Discard()).EnsureLoginAccess(context.Background(), n)
		require.Error(t, err)
		assert.True(t, fault.IsTransport(err))
		assert.Empty(t, n.Group)
	})

	t.Run("no lookup succeeds", func(t *testing.T) {
		t.Parallel()
		n, _ := fleettest.NewNode("10.0.0.1")
		err := New(logr.Discard()).EnsureLoginAccess(context.Background(), n)
		require.Error(t, err)
		assert.True(t, fault.IsTransport(err))
	})

	t.Run("root login needs nothing", func(t *testing.T) {
		t.Parallel()
		exec := fleettest.NewFakeExecutor("10.0.0.1")
		n := node.New("10.0.0.1", node.Root, exec)
		require.NoError(t, New(logr.Discard()).EnsureLoginAccess(context.Background(), n))
		assert.Empty(t, exec.Calls())
	})
}

// byUser routes root commands to one executor and the rest to another.
type byUser struct {
	user node.Executor
	root node.Executor
}

func (b byUser) Execute(ctx context.Context, cmd node.Command) (node.Result, error) {
	if cmd.User == node.Root {
		return b.root.Execute(ctx, cmd)
	}
	return b.user.Execute(ctx, cmd)
}

func (b byUser) Upload(context.Context, string, string) error   { return nil }
func (b byUser) Download(context.Context, string, string) error { return nil }

func TestIdentities(t *testing.T) {
	t.Parallel()
	nodes, _ := fleettest.NewNodes(2)
	nodes[1].ExternalAddress = ""

	ids := identities(nodes[0], nodes)
	assert.Equal(t, "localhost 127.0.0.1 ofsnode-002 10.0.0.2", strings.Join(ids, " "))
}
