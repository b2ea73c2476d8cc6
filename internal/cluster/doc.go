// Package cluster coordinates work across the nodes of one orchestration
// session.
//
// The two core primitives are:
//
//   - FanOut: one goroutine per node, a join barrier, and per-node outcome
//     recording. A failing or panicking worker never affects its siblings.
//   - Broadcast: replication of an artifact from the first node of a
//     NodeSet to every other node through a recursive binary split, so the
//     copy completes in ceil(log2 N) rounds with N-1 transfers.
//
// Everything else (network checks, /etc/hosts, test-case runs) is built on
// those two. A Cluster hands out immutable NodeSet snapshots; membership
// changes never affect an operation already in flight.
package cluster
