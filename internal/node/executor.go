package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strings"

	"github.com/go-logr/logr"

	"github.com/imamik/fleetrun/internal/fault"
)

// Executor is the transport capability behind a Node.
//
// Execute is single-shot: it never retries. It returns an error only when
// the command could not be run at all (host unreachable, authentication
// rejected); a command that ran and exited non-zero is a Result.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (Result, error)
	// Upload copies a local file to remotePath on the host.
	Upload(ctx context.Context, localPath, remotePath string) error
	// Download copies remotePath on the host to a local file.
	Download(ctx context.Context, remotePath, localPath string) error
}

// LocalExecutor runs commands on the orchestrator through bash.
type LocalExecutor struct {
	// Shell defaults to /bin/bash.
	Shell string
	Log   logr.Logger
}

// NewLocalExecutor returns an executor for the machine fleetrun runs on.
func NewLocalExecutor(log logr.Logger) *LocalExecutor {
	return &LocalExecutor{Shell: "/bin/bash", Log: log}
}

// Execute runs cmd with "bash -c". Running as another account is refused:
// the command runs as the current user and a warning is logged.
func (e *LocalExecutor) Execute(ctx context.Context, cmd Command) (Result, error) {
	if cmd.User != "" && cmd.User != CurrentUser() {
		e.Log.Info("refusing to switch user on the local machine, running as current user",
			"requested", cmd.User, "current", CurrentUser())
	}

	line := cmd.Line()
	shell := e.Shell
	if shell == "" {
		shell = "/bin/bash"
	}

	// #nosec G204
	c := exec.CommandContext(ctx, shell, "-c", line)
	var stdout, stderr strings.Builder
	c.Stdout = &stdout
	c.Stderr = &stderr
	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	res := Result{CommandLine: line}
	err := c.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		return res, fault.Wrapf(fault.Transport, err, "failed to start %s", shell)
	}
}

// Upload copies a file locally.
func (e *LocalExecutor) Upload(_ context.Context, localPath, remotePath string) error {
	return copyFile(localPath, remotePath)
}

// Download copies a file locally.
func (e *LocalExecutor) Download(_ context.Context, remotePath, localPath string) error {
	return copyFile(remotePath, localPath)
}

func copyFile(src, dst string) error {
	// #nosec G304
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}

// CurrentUser returns the login name of the orchestrator process.
func CurrentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
