package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds operational timeouts that are not part of a pipeline
// definition. These values can be customized via environment variables.
type Timeouts struct {
	ServerCreate      time.Duration // Timeout for a single provisioning request
	Delete            time.Duration // Timeout for teardown operations
	ServerPoll        time.Duration // Interval between provisioning gate polls
	DialTimeout       time.Duration // Timeout for a single readiness dial
	StageDefault      time.Duration // Stage timeout when the definition sets none
	CancelPoll        time.Duration // Interval for picking up persisted cancel requests and refreshing the pipeline lock
	QueuePoll         time.Duration // Interval for retrying a queued trigger's store lock
	RetryMaxAttempts  int           // Maximum number of retries for API calls
	RetryInitialDelay time.Duration // Initial delay between API retries
}

// LoadTimeouts loads timeout configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - SHIPYARD_TIMEOUT_SERVER_CREATE (default: 10m)
//   - SHIPYARD_TIMEOUT_DELETE (default: 5m)
//   - SHIPYARD_SERVER_POLL (default: 5s)
//   - SHIPYARD_DIAL_TIMEOUT (default: 2s)
//   - SHIPYARD_TIMEOUT_STAGE (default: 30m)
//   - SHIPYARD_CANCEL_POLL (default: 2s)
//   - SHIPYARD_QUEUE_POLL (default: 5s)
//   - SHIPYARD_RETRY_MAX_ATTEMPTS (default: 5)
//   - SHIPYARD_RETRY_INITIAL_DELAY (default: 1s)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		ServerCreate:      parseDuration("SHIPYARD_TIMEOUT_SERVER_CREATE", 10*time.Minute),
		Delete:            parseDuration("SHIPYARD_TIMEOUT_DELETE", 5*time.Minute),
		ServerPoll:        parseDuration("SHIPYARD_SERVER_POLL", 5*time.Second),
		DialTimeout:       parseDuration("SHIPYARD_DIAL_TIMEOUT", 2*time.Second),
		StageDefault:      parseDuration("SHIPYARD_TIMEOUT_STAGE", 30*time.Minute),
		CancelPoll:        parseDuration("SHIPYARD_CANCEL_POLL", 2*time.Second),
		QueuePoll:         parseDuration("SHIPYARD_QUEUE_POLL", 5*time.Second),
		RetryMaxAttempts:  parseInt("SHIPYARD_RETRY_MAX_ATTEMPTS", 5),
		RetryInitialDelay: parseDuration("SHIPYARD_RETRY_INITIAL_DELAY", 1*time.Second),
	}
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
