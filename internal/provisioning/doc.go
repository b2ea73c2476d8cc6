// Package provisioning drives cloud instances through their lifecycle:
//
//	Requested -> Pending -> Active -> Reachable -> Terminated | Stopped
//	Requested -> SpotPending -> Fulfilled -> Pending   (spot requests)
//
// A [Provisioner] works against the narrow [Backend] interface; vendor
// bindings live in internal/platform. Every wait is a bounded fixed-interval
// poll, and an instance that does not reach the next state within its
// bound is marked Failed and dropped from the ready set rather than waited
// on forever.
//
// Teardown is idempotent: terminating or stopping an address the backend
// does not know is reported as [OutcomeNotFound], not as an error.
package provisioning
