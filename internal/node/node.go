package node

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/go-logr/logr"

	"github.com/imamik/fleetrun/internal/util/naming"
)

// Info is what Discover learns about a host.
type Info struct {
	Distro    string
	Kernel    string
	Processor string
	Cores     string
}

// Node is one host under orchestration together with its session.
//
// A Node is not safe for concurrent use: the cluster assigns each node to a
// single worker at a time.
type Node struct {
	// Address is the internal address, unique within a cluster.
	Address string
	// ExternalAddress is the address the orchestrator reaches the node on.
	// Empty when it equals Address.
	ExternalAddress string
	Hostname        string
	// User is the login user.
	User  string
	Group string
	// KeyPath is the orchestrator-side private key that opens this node.
	KeyPath string
	IsCloud bool
	IsLocal bool
	Info    Info
	// Keys records, per peer address, the key this node uses to open it.
	Keys *KeyTable

	session   Session
	batch     []string
	scripts   *naming.Sequence
	exec      Executor
	log       logr.Logger
	onCommand func(Result, error)
}

// Option configures a Node.
type Option func(*Node)

// WithExternalAddress sets the address reachable from the orchestrator.
func WithExternalAddress(addr string) Option {
	return func(n *Node) { n.ExternalAddress = addr }
}

// WithHostname sets the known hostname.
func WithHostname(name string) Option {
	return func(n *Node) { n.Hostname = name }
}

// WithKey sets the orchestrator-side private key for the node.
func WithKey(path string) Option {
	return func(n *Node) { n.KeyPath = path }
}

// WithLogger sets the logger commands are reported to.
func WithLogger(log logr.Logger) Option {
	return func(n *Node) { n.log = log }
}

// WithCommandHook registers a callback invoked after every command.
func WithCommandHook(fn func(Result, error)) Option {
	return func(n *Node) { n.onCommand = fn }
}

// AsCloud marks the node as provisioned by a cloud backend.
func AsCloud() Option {
	return func(n *Node) { n.IsCloud = true }
}

// New creates a remote node reached through exec.
func New(address, user string, exec Executor, opts ...Option) *Node {
	n := &Node{
		Address: address,
		User:    user,
		Keys:    NewKeyTable(),
		scripts: naming.NewSequence(0),
		exec:    exec,
		log:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.WithValues("node", n.Address)
	return n
}

// NewLocal creates the orchestrator's own node.
func NewLocal(log logr.Logger, opts ...Option) *Node {
	host, _ := os.Hostname()
	opts = append([]Option{WithHostname(host), WithLogger(log)}, opts...)
	n := New("127.0.0.1", CurrentUser(), NewLocalExecutor(log), opts...)
	n.IsLocal = true
	return n
}

// Reachable returns the address the orchestrator should dial.
func (n *Node) Reachable() string {
	if n.ExternalAddress != "" {
		return n.ExternalAddress
	}
	return n.Address
}

// Home returns the login user's home directory.
func (n *Node) Home() string {
	if n.IsLocal {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if n.User == Root {
		return "/root"
	}
	return path.Join("/home", n.User)
}

// Executor returns the transport the node runs commands through.
func (n *Node) Executor() Executor {
	return n.exec
}

func (n *Node) String() string {
	if n.Hostname != "" {
		return fmt.Sprintf("%s (%s)", n.Hostname, n.Address)
	}
	return n.Address
}

// Run executes text as the login user inside the current session.
func (n *Node) Run(ctx context.Context, text string) (Result, error) {
	return n.RunAs(ctx, n.User, text)
}

// RunAsRoot executes text with root privileges.
func (n *Node) RunAsRoot(ctx context.Context, text string) (Result, error) {
	return n.RunAs(ctx, Root, text)
}

// RunAs executes text as user inside the current session.
func (n *Node) RunAs(ctx context.Context, user, text string) (Result, error) {
	return n.execute(ctx, Command{
		Text: text,
		User: user,
		Dir:  n.session.Dir,
		Env:  n.session.Env,
	})
}

// Output runs text and returns its stdout without the trailing newline.
// The exit code is not inspected.
func (n *Node) Output(ctx context.Context, text string) (string, error) {
	return n.OutputAs(ctx, n.User, text)
}

// OutputAs is Output for another user.
func (n *Node) OutputAs(ctx context.Context, user, text string) (string, error) {
	res, err := n.RunAs(ctx, user, text)
	if err != nil {
		return "", err
	}
	return res.Trimmed(), nil
}

func (n *Node) execute(ctx context.Context, cmd Command) (Result, error) {
	res, err := n.exec.Execute(ctx, cmd)
	if err != nil {
		n.log.Error(err, "command could not be run", "user", cmd.User, "command", cmd.Text)
	} else {
		n.log.V(1).Info("command finished",
			"user", cmd.User,
			"command", res.CommandLine,
			"rc", res.ExitCode,
			"stdout", res.Stdout,
			"stderr", res.Stderr)
	}
	if n.onCommand != nil {
		n.onCommand(res, err)
	}
	return res, err
}
