package node

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/imamik/fleetrun/internal/util/naming"
)

// AddBatch queues a command for the next RunBatch.
func (n *Node) AddBatch(text string) {
	n.batch = append(n.batch, text)
}

// Batch returns the queued commands.
func (n *Node) Batch() []string {
	return append([]string(nil), n.batch...)
}

// ClearBatch drops the queued commands.
func (n *Node) ClearBatch() {
	n.batch = nil
}

// Script renders the queued commands as one bash script that replays the
// session, stops at the first failing command and exits with its code.
func (n *Node) Script() string {
	return renderScript(n.session, n.batch)
}

// RunBatch runs the queued commands as the login user in one shell.
func (n *Node) RunBatch(ctx context.Context) (Result, error) {
	return n.RunBatchAs(ctx, n.User)
}

// RunBatchAs runs the queued commands as user in one shell. Remote nodes
// read the script on stdin; the local node runs it from a temporary file.
// The queue is cleared whatever the outcome.
func (n *Node) RunBatchAs(ctx context.Context, user string) (Result, error) {
	script := n.Script()
	name := naming.BatchScript(n.scripts.Next())
	n.ClearBatch()

	n.log.V(1).Info("running batch script", "script", name, "user", user)
	if _, ok := n.exec.(*LocalExecutor); ok {
		return n.runLocalScript(ctx, user, name, script)
	}
	res, err := n.execute(ctx, Command{
		Text:  "bash -s",
		User:  user,
		Stdin: strings.NewReader(script),
	})
	res.CommandLine = "bash -s < " + name
	return res, err
}

// runLocalScript writes script to a temporary file and runs it with bash.
// The file is removed once the script exits.
func (n *Node) runLocalScript(ctx context.Context, user, name, script string) (Result, error) {
	f, err := os.CreateTemp("", "fleetrun-*-"+name)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create batch script %s: %w", name, err)
	}
	defer os.Remove(f.Name())

	_, err = f.WriteString(script)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to write batch script %s: %w", f.Name(), err)
	}
	return n.execute(ctx, Command{Text: "bash " + f.Name(), User: user})
}

// RunAsBatch runs a single command through a batch script.
func (n *Node) RunAsBatch(ctx context.Context, text string) (Result, error) {
	n.AddBatch(text)
	return n.RunBatch(ctx)
}

func renderScript(s Session, commands []string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	for _, k := range sortedKeys(s.Env) {
		b.WriteString("export " + k + "=" + DoubleQuote(s.Env[k]) + "\n")
	}
	if s.Dir != "" {
		b.WriteString("cd " + quoteDir(s.Dir) + "\n")
		b.WriteString("if [ $? -ne 0 ]; then\n\texit 1\nfi\n")
	}
	for _, c := range commands {
		b.WriteString(c + "\n")
		b.WriteString("RC=$?\n")
		b.WriteString("if [ $RC -ne 0 ]; then\n\texit $RC\nfi\n")
	}
	b.WriteString("exit 0\n")
	return b.String()
}
