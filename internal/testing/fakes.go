package testing

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/imamik/fleetrun/internal/node"
)

// Call is one command seen by a FakeExecutor.
type Call struct {
	node.Command
	Line  string
	Stdin string
}

type rule struct {
	match  string
	result node.Result
	err    error
	hook   func(node.Command)
}

// FakeExecutor is a scripted node.Executor. The first rule whose match
// string occurs in the command line or its stdin decides the outcome;
// unmatched commands succeed with empty output.
type FakeExecutor struct {
	Host string

	mu        sync.Mutex
	rules     []rule
	calls     []Call
	uploads   []string
	downloads []string
}

var _ node.Executor = (*FakeExecutor)(nil)

// NewFakeExecutor returns an executor with no rules.
func NewFakeExecutor(host string) *FakeExecutor {
	return &FakeExecutor{Host: host}
}

// On makes commands containing match return res.
func (f *FakeExecutor) On(match string, res node.Result) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{match: match, result: res})
	return f
}

// OnError makes commands containing match fail with err.
func (f *FakeExecutor) OnError(match string, err error) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{match: match, err: err})
	return f
}

// OnRun calls hook before commands containing match return res. Hooks may
// block or panic to simulate slow or broken hosts.
func (f *FakeExecutor) OnRun(match string, res node.Result, hook func(node.Command)) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{match: match, result: res, hook: hook})
	return f
}

// Reset drops all rules.
func (f *FakeExecutor) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = nil
}

// Execute records cmd and applies the first matching rule.
func (f *FakeExecutor) Execute(_ context.Context, cmd node.Command) (node.Result, error) {
	call := Call{Command: cmd, Line: cmd.Line()}
	if cmd.Stdin != nil {
		b, _ := io.ReadAll(cmd.Stdin)
		call.Stdin = string(b)
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	var matched *rule
	for i := range f.rules {
		r := f.rules[i]
		if strings.Contains(call.Line, r.match) || strings.Contains(call.Stdin, r.match) {
			matched = &r
			break
		}
	}
	f.mu.Unlock()

	if matched == nil {
		return node.Result{CommandLine: call.Line}, nil
	}
	if matched.hook != nil {
		matched.hook(cmd)
	}
	res := matched.result
	res.CommandLine = call.Line
	return res, matched.err
}

// Upload records the transfer.
func (f *FakeExecutor) Upload(_ context.Context, localPath, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, fmt.Sprintf("%s -> %s", localPath, remotePath))
	return nil
}

// Download records the transfer.
func (f *FakeExecutor) Download(_ context.Context, remotePath, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, fmt.Sprintf("%s -> %s", remotePath, localPath))
	return nil
}

// Calls returns every command seen so far.
func (f *FakeExecutor) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Count returns how many commands contained substr in their line or stdin.
func (f *FakeExecutor) Count(substr string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.Contains(c.Line, substr) || strings.Contains(c.Stdin, substr) {
			n++
		}
	}
	return n
}

// Uploads returns recorded uploads as "local -> remote".
func (f *FakeExecutor) Uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}
