package cluster

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/imamik/fleetrun/internal/fault"
)

// InstanceLog is a flat text file with one provisioned internal address per
// line. It lets a later process tear down a cluster it did not create.
type InstanceLog string

// Path returns the file path.
func (l InstanceLog) Path() string {
	return string(l)
}

// Write replaces the log with addrs.
func (l InstanceLog) Write(addrs []string) error {
	var b strings.Builder
	for _, a := range addrs {
		b.WriteString(a)
		b.WriteString("\n")
	}
	if err := os.WriteFile(l.Path(), []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write instance log: %w", err)
	}
	return nil
}

// Read returns the logged addresses. Blank lines are ignored. A missing log
// is a NotFound error.
func (l InstanceLog) Read() ([]string, error) {
	f, err := os.Open(l.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, fault.Wrapf(fault.NotFound, err, "no instance log at %s", l.Path())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open instance log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var addrs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			addrs = append(addrs, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read instance log: %w", err)
	}
	return addrs, nil
}

// Clear removes the log. A missing log is not an error.
func (l InstanceLog) Clear() error {
	if err := os.Remove(l.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove instance log: %w", err)
	}
	return nil
}
