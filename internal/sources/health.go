package sources

import (
	"sync"
	"time"
)

// SourceHealth represents the current health state of a data provider.
type SourceHealth struct {
	// Source is the provider name (e.g., "fred", "census")
	Source string

	// LastSuccess is the timestamp of the last successful API call
	LastSuccess time.Time

	// LastFailure is the timestamp of the last failed API call
	LastFailure time.Time

	// LastError contains the error message from the last failure, if any
	LastError string

	// LastDuration is the latency of the last API call
	LastDuration time.Duration

	// ConsecutiveFailures is the count of consecutive failed API calls
	ConsecutiveFailures int

	// CircuitState is the current state of the provider's circuit breaker
	CircuitState string
}

// HealthReporter is implemented by providers that expose health status.
// Health must be thread-safe and non-blocking.
type HealthReporter interface {
	Health() SourceHealth
}

// healthTracker provides the bookkeeping behind HealthReporter. Adapters
// embed it and call recordSuccess/recordFailure around their API calls.
type healthTracker struct {
	mu     sync.RWMutex
	health SourceHealth
}

func newHealthTracker(source string) healthTracker {
	return healthTracker{
		health: SourceHealth{Source: source},
	}
}

func (h *healthTracker) recordSuccess(duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.health.LastSuccess = time.Now()
	h.health.LastDuration = duration
	h.health.LastError = ""
	h.health.ConsecutiveFailures = 0
}

func (h *healthTracker) recordFailure(err error, duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.health.LastFailure = time.Now()
	h.health.LastDuration = duration
	h.health.LastError = err.Error()
	h.health.ConsecutiveFailures++
}

func (h *healthTracker) setCircuitState(state string) {
	h.mu.Lock()
	h.health.CircuitState = state
	h.mu.Unlock()
}

// Health returns the current health status.
func (h *healthTracker) Health() SourceHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.health
}
