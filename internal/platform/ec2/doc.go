// Package ec2 implements the provisioning backend for Amazon EC2 and
// EC2-compatible clouds.
//
// Instances are started with RunInstances or bought as one-time spot
// requests. Elastic addresses allocated for a cluster carry the cluster tag
// and are reused by later requests until ReleaseExternalIPs gives them back.
package ec2
