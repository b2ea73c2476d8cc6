package config

import (
	"os"
	"strconv"
	"time"

	"github.com/imamik/fleetrun/internal/provisioning"
	"github.com/imamik/fleetrun/internal/util/retry"
)

// Timeouts holds all configurable timeout values.
// These values can be customized via environment variables.
type Timeouts struct {
	ServerCreate      time.Duration // Timeout for vendor create calls
	Delete            time.Duration // Timeout for all delete operations
	RetryMaxAttempts  int           // Maximum number of retry attempts for vendor API calls
	RetryInitialDelay time.Duration // Initial delay between retries

	PollInterval         time.Duration // Interval between instance state polls
	PollAttempts         int           // Instance state polls before an instance is abandoned
	SpotPollInterval     time.Duration // Interval between spot request polls
	SpotMaxWait          time.Duration // Time spot requests may stay open
	IPSettle             time.Duration // Wait after external addresses were associated
	SSHInterval          time.Duration // Interval between SSH login attempts
	SSHAttempts          int           // SSH login attempts per node
	ConnectivityInterval time.Duration // Interval between connectivity checks
	ConnectivityAttempts int           // Connectivity checks before giving up
	RebootWait           time.Duration // Wait after rebooting a node
}

// LoadTimeouts loads timeout configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - FLEETRUN_TIMEOUT_SERVER_CREATE (default: 10m)
//   - FLEETRUN_TIMEOUT_DELETE (default: 5m)
//   - FLEETRUN_RETRY_MAX_ATTEMPTS (default: 5)
//   - FLEETRUN_RETRY_INITIAL_DELAY (default: 1s)
//   - FLEETRUN_POLL_INTERVAL (default: 10s)
//   - FLEETRUN_POLL_ATTEMPTS (default: 30)
//   - FLEETRUN_SPOT_POLL_INTERVAL (default: 10s)
//   - FLEETRUN_SPOT_MAX_WAIT (default: 10m)
//   - FLEETRUN_IP_SETTLE (default: 60s)
//   - FLEETRUN_SSH_INTERVAL (default: 20s)
//   - FLEETRUN_SSH_ATTEMPTS (default: 15)
//   - FLEETRUN_CONNECTIVITY_INTERVAL (default: 10s)
//   - FLEETRUN_CONNECTIVITY_ATTEMPTS (default: 30)
//   - FLEETRUN_REBOOT_WAIT (default: 180s)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		ServerCreate:         parseDuration("FLEETRUN_TIMEOUT_SERVER_CREATE", 10*time.Minute),
		Delete:               parseDuration("FLEETRUN_TIMEOUT_DELETE", 5*time.Minute),
		RetryMaxAttempts:     parseInt("FLEETRUN_RETRY_MAX_ATTEMPTS", 5),
		RetryInitialDelay:    parseDuration("FLEETRUN_RETRY_INITIAL_DELAY", 1*time.Second),
		PollInterval:         parseDuration("FLEETRUN_POLL_INTERVAL", 10*time.Second),
		PollAttempts:         parseInt("FLEETRUN_POLL_ATTEMPTS", 30),
		SpotPollInterval:     parseDuration("FLEETRUN_SPOT_POLL_INTERVAL", 10*time.Second),
		SpotMaxWait:          parseDuration("FLEETRUN_SPOT_MAX_WAIT", 10*time.Minute),
		IPSettle:             parseDuration("FLEETRUN_IP_SETTLE", 60*time.Second),
		SSHInterval:          parseDuration("FLEETRUN_SSH_INTERVAL", 20*time.Second),
		SSHAttempts:          parseInt("FLEETRUN_SSH_ATTEMPTS", 15),
		ConnectivityInterval: parseDuration("FLEETRUN_CONNECTIVITY_INTERVAL", 10*time.Second),
		ConnectivityAttempts: parseInt("FLEETRUN_CONNECTIVITY_ATTEMPTS", 30),
		RebootWait:           parseDuration("FLEETRUN_REBOOT_WAIT", 180*time.Second),
	}
}

// Settings returns the provisioner bounds.
func (t *Timeouts) Settings() provisioning.Settings {
	s := provisioning.DefaultSettings()
	s.PollInterval = t.PollInterval
	s.MaxPollAttempts = t.PollAttempts
	s.SpotPollInterval = t.SpotPollInterval
	s.SpotMaxWait = t.SpotMaxWait
	s.IPSettle = t.IPSettle
	s.SSH = t.SSHPoller()
	s.Connectivity = t.ConnectivityPoller()
	s.RebootWait = t.RebootWait
	return s
}

// SSHPoller bounds the wait for SSH logins.
func (t *Timeouts) SSHPoller() retry.Poller {
	return retry.Poller{Interval: t.SSHInterval, MaxAttempts: t.SSHAttempts}
}

// ConnectivityPoller bounds the wait for network connectivity.
func (t *Timeouts) ConnectivityPoller() retry.Poller {
	return retry.Poller{Interval: t.ConnectivityInterval, MaxAttempts: t.ConnectivityAttempts}
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}

	return d
}

// parseInt parses an integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}

	return i
}

// TestTimeouts returns short bounds for tests against fake vendor APIs.
func TestTimeouts() *Timeouts {
	return &Timeouts{
		ServerCreate:         30 * time.Second,
		Delete:               30 * time.Second,
		RetryMaxAttempts:     2,
		RetryInitialDelay:    time.Millisecond,
		PollInterval:         time.Millisecond,
		PollAttempts:         3,
		SpotPollInterval:     time.Millisecond,
		SpotMaxWait:          3 * time.Millisecond,
		IPSettle:             time.Millisecond,
		SSHInterval:          time.Millisecond,
		SSHAttempts:          2,
		ConnectivityInterval: time.Millisecond,
		ConnectivityAttempts: 2,
		RebootWait:           time.Millisecond,
	}
}
