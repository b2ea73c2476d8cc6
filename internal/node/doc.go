// Package node is the uniform command-execution abstraction over one host.
//
// A [Node] pairs a host identity (internal address, external address,
// hostname, login user) with an [Executor] that knows how to reach it: over
// SSH for remote machines, through os/exec for the orchestrator itself.
//
// Executors start a fresh shell for every call, so a Node keeps its working
// directory and environment as a logical [Session] and re-emits both in
// front of every command. Batch mode collects several commands into one
// bash script when they must share shell state.
//
// A non-zero exit code is a normal [Result]. Errors are reserved for
// transport failures and carry [fault.Transport].
package node
