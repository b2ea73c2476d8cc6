// Package hcloud implements the Hetzner Cloud provisioning backend.
//
// # Architecture
//
//   - client.go: client initialization, options and cluster labels
//   - operations.go: generic Delete and Ensure operations with retry
//   - image.go: image listing for image resolution by id or name
//   - server.go: server creation, state polling, lookup and teardown
//   - floating_ip.go: the per-cluster floating IP pool
//   - ssh_key.go: registration of the orchestrator key
//   - errors.go: vendor error codes mapped to retry decisions and fault kinds
//
// Every server and floating IP carries the label fleetrun.io/cluster so a
// later session can find the instances of a cluster by address.
//
// Hetzner has no spot market, so Client implements provisioning.Backend but
// not provisioning.SpotBackend. A request with a bid is served on-demand.
//
// # External addresses
//
// Servers created without a private network already have a public IPv4
// address, which is reused. Servers on a private network get a floating IP
// from the cluster pool: an unassigned pool address is reused before a new
// one is allocated.
package hcloud
