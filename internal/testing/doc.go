// Package testing provides shared test doubles for fleetrun packages.
//
//   - FakeExecutor: scripted node.Executor that records every command
//   - NewNode / NewNodes / NewLocalNode: nodes wired to fake executors
//   - MockBackend: testify mock of provisioning.Backend
//
// Usage:
//
//	nodes, execs := testing.NewNodes(4)
//	execs[0].On("ping", node.Result{})
//	execs[1].OnError("whoami", fault.New(fault.Transport, "refused"))
package testing
