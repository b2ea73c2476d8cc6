// Package retry holds the two waiting disciplines used across fleetrun.
//
// [Poll] re-checks a condition at a fixed interval for a bounded number of
// attempts and reports progress after every miss. Every cloud-state and
// connectivity wait is a Poll: exceeding the bound returns [ErrExhausted]
// instead of waiting forever.
//
// [WithExponentialBackoff] retries transient vendor API failures (rate
// limits, locked resources). Errors wrapped with [Fatal] stop it at once.
package retry
