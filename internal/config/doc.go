// Package config loads the cluster file, the cloud credential file and the
// environment overrides for every wait bound.
//
// The cluster file is YAML. It names the backend, the provisioning request,
// any pre-existing machines to adopt and the artifacts to distribute.
// Credential files use the "export KEY=value" shell format of vendor rc
// files. Errors are classified as fault.Configuration so they surface
// before any cluster work starts.
package config
