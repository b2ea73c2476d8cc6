// Package ssh is the remote transport behind cluster nodes.
//
// A [Client] implements node.Executor over golang.org/x/crypto/ssh. Each
// call opens a fresh connection and session, so a failed node never leaves
// a broken connection behind for the next command. Calls are single-shot:
// readiness waits live in the probe package, not here.
//
// Host key verification is disabled by default because cluster machines are
// ephemeral and re-use addresses.
package ssh
