// Package keygen generates and persists RSA key pairs for cluster SSH access.
//
// A cluster without a configured key gets a fresh pair: the public half is
// registered with the cloud vendor, the private half is written next to the
// instance list so later sessions (teardown, trust setup) can reuse it.
package keygen
