// Package naming provides consistent names for cluster nodes and resources.
//
// Hostnames follow {prefix}-{NNN}, cloud instance names add an optional
// suffix, and cluster-owned vendor resources (SSH keys, floating IPs) are
// prefixed with the cluster name so teardown can find them. Numbers come from
// a [Sequence] owned by one cluster session rather than process-wide state.
package naming
