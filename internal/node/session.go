package node

import (
	"fmt"
	"maps"

	"github.com/joho/godotenv"
)

// Session is the logical shell state of a Node. It is replayed in front of
// every command because each invocation starts a fresh shell.
type Session struct {
	Dir      string
	Previous string
	Env      map[string]string
}

// Snapshot returns a copy safe to hand to another goroutine.
func (s Session) Snapshot() Session {
	return Session{Dir: s.Dir, Previous: s.Previous, Env: maps.Clone(s.Env)}
}

// ChangeDirectory updates the logical working directory. "~" selects the
// login user's home and "-" swaps with the previous directory.
func (n *Node) ChangeDirectory(dir string) {
	switch dir {
	case "-":
		n.session.Dir, n.session.Previous = n.session.Previous, n.session.Dir
		return
	case "~":
		dir = n.Home()
	}
	n.session.Previous = n.session.Dir
	n.session.Dir = dir
}

// Directory returns the logical working directory.
func (n *Node) Directory() string {
	return n.session.Dir
}

// SetEnv adds or replaces one environment variable.
func (n *Node) SetEnv(key, value string) {
	if n.session.Env == nil {
		n.session.Env = make(map[string]string)
	}
	n.session.Env[key] = value
}

// UnsetEnv removes one environment variable.
func (n *Node) UnsetEnv(key string) {
	delete(n.session.Env, key)
}

// ClearEnv removes every environment variable.
func (n *Node) ClearEnv() {
	n.session.Env = nil
}

// ParseEnv loads variables from text of the form "A=1\nB=2". Lines may carry
// an "export " prefix and comments.
func (n *Node) ParseEnv(text string) error {
	vars, err := godotenv.Unmarshal(text)
	if err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	for k, v := range vars {
		n.SetEnv(k, v)
	}
	return nil
}

// Session returns a snapshot of the current session.
func (n *Node) Session() Session {
	return n.session.Snapshot()
}
