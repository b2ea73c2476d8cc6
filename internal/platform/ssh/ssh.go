package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/node"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second
)

// Escalation selects how a command for another account is run.
type Escalation int

const (
	// EscalateLogin connects as the target account. Root commands work once
	// the login user's keys have been mirrored to root.
	EscalateLogin Escalation = iota
	// EscalateSudo connects as the login user and wraps the command in
	// non-interactive sudo.
	EscalateSudo
)

// Config holds SSH client configuration.
type Config struct {
	Host       string
	Port       int
	User       string
	PrivateKey []byte

	// DialTimeout is the timeout for establishing the TCP connection.
	// If zero, defaultDialTimeout is used.
	DialTimeout time.Duration

	Escalation Escalation

	// HostKeyCallback handles host key verification.
	// If nil, ssh.InsecureIgnoreHostKey() is used.
	HostKeyCallback ssh.HostKeyCallback
}

// Client executes commands on one remote host.
// It parses the private key once during construction and
// creates connections on demand per call.
type Client struct {
	config *Config
	signer ssh.Signer
}

var _ node.Executor = (*Client)(nil)

// NewClient creates a new SSH client and validates the private key.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Host == "" {
		return nil, fmt.Errorf("config host cannot be empty")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("config user cannot be empty")
	}
	if len(cfg.PrivateKey) == 0 {
		return nil, fmt.Errorf("config private key cannot be empty")
	}

	// Copy config to avoid mutating caller's struct
	configCopy := *cfg

	if configCopy.Port == 0 {
		configCopy.Port = defaultPort
	}
	if configCopy.DialTimeout == 0 {
		configCopy.DialTimeout = defaultDialTimeout
	}
	if configCopy.HostKeyCallback == nil {
		configCopy.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // ephemeral cluster machines
	}

	signer, err := ssh.ParsePrivateKey(configCopy.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &Client{
		config: &configCopy,
		signer: signer,
	}, nil
}

// NewNode reads the private key at keyPath and returns the node with
// internal address host. The client dials the node's external address
// when the options set one.
func NewNode(host, user, keyPath string, escalation Escalation, opts ...node.Option) (*node.Node, error) {
	// #nosec G304
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fault.Wrapf(fault.Configuration, err, "failed to read key %s", keyPath)
	}
	opts = append([]node.Option{node.WithKey(keyPath)}, opts...)
	dial := node.New(host, user, nil, opts...).Reachable()
	client, err := NewClient(&Config{Host: dial, User: user, PrivateKey: key, Escalation: escalation})
	if err != nil {
		return nil, fault.Wrap(fault.Configuration, err)
	}
	return node.New(host, user, client, opts...), nil
}

// Execute runs cmd on the remote host. A non-zero exit status is returned
// in the Result; only connection and session failures are errors.
func (c *Client) Execute(ctx context.Context, cmd node.Command) (node.Result, error) {
	user, line := c.resolve(cmd)
	res := node.Result{CommandLine: line}

	client, err := c.connect(ctx, user)
	if err != nil {
		return res, err
	}
	defer func() { _ = client.Close() }()

	var stdout, stderr bytes.Buffer
	code, err := c.run(ctx, client, line, cmd.Stdin, &stdout, &stderr)
	res.ExitCode = code
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res, err
}

// Upload streams a local file to remotePath.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	// #nosec G304
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	client, err := c.connect(ctx, c.config.User)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	var stderr bytes.Buffer
	code, err := c.run(ctx, client, "cat > "+node.SingleQuote(remotePath), f, io.Discard, &stderr)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("upload to %s:%s exited %d: %s", c.config.Host, remotePath, code, stderr.String())
	}
	return nil
}

// Download streams remotePath into a local file.
func (c *Client) Download(ctx context.Context, remotePath, localPath string) error {
	// #nosec G304
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	client, err := c.connect(ctx, c.config.User)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	var stderr bytes.Buffer
	code, err := c.run(ctx, client, "cat "+node.SingleQuote(remotePath), nil, f, &stderr)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("download of %s:%s exited %d: %s", c.config.Host, remotePath, code, stderr.String())
	}
	return nil
}

// resolve picks the account to connect as and the line to run.
func (c *Client) resolve(cmd node.Command) (string, string) {
	line := cmd.Line()
	if cmd.User == "" || cmd.User == c.config.User {
		return c.config.User, line
	}
	if c.config.Escalation == EscalateLogin {
		return cmd.User, line
	}
	if cmd.User == node.Root {
		return c.config.User, "sudo -n bash -c " + node.SingleQuote(line)
	}
	return c.config.User, "sudo -n -u " + cmd.User + " bash -c " + node.SingleQuote(line)
}

// connect establishes a single SSH connection.
func (c *Client) connect(ctx context.Context, user string) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(c.signer),
		},
		HostKeyCallback: c.config.HostKeyCallback,
		Timeout:         c.config.DialTimeout,
	}

	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fault.Wrapf(fault.Transport, err, "failed to dial %s", addr)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, fault.Wrapf(fault.Transport, err, "failed to establish SSH connection to %s as %s", addr, user)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// run executes line on an established connection and returns its exit code.
func (c *Client) run(ctx context.Context, client *ssh.Client, line string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	session, err := client.NewSession()
	if err != nil {
		return 0, fault.Wrapf(fault.Transport, err, "failed to create SSH session on %s", c.config.Host)
	}
	defer func() { _ = session.Close() }()

	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = client.Close()
		return 0, fault.Wrapf(fault.Transport, ctx.Err(), "command on %s aborted", c.config.Host)
	case err = <-done:
	}

	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitStatus(), nil
	case errors.As(err, &missing):
		return 0, fault.Wrapf(fault.Transport, err, "connection to %s closed before exit status", c.config.Host)
	default:
		return 0, fault.Wrapf(fault.Transport, err, "command failed on %s", c.config.Host)
	}
}
