// Package cache provides the tiered cache used by all data source lookups.
// Three interchangeable backends implement one contract: a pure in-process
// map with optional disk persistence, a shared Redis store with in-process
// fallback, and a hybrid that composes both.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is not found or its entry has expired
	ErrNotFound = errors.New("cache: key not found")

	// ErrDisconnected is returned by the remote backend when the store is
	// unreachable and fallback is disabled
	ErrDisconnected = errors.New("cache: remote store disconnected")

	// ErrUnsupportedType is returned by the factory for unknown backend types
	ErrUnsupportedType = errors.New("cache: unsupported cache type")
)

// Entry is the unit of storage. An entry is live iff now < Timestamp + TTL;
// an expired entry is treated as absent by every backend.
type Entry struct {
	Data      interface{}   `json:"data"`
	Timestamp time.Time     `json:"timestamp"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the entry is no longer live at the given instant.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.Timestamp.Add(e.TTL))
}

// Statistics tracks backend-level hit/miss counters. Counters are owned by
// the backend and mutated on every Get/Set; readers get a snapshot.
type Statistics struct {
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	Size          int       `json:"size"`
	LastRefreshed time.Time `json:"last_refreshed"`
}

// HealthStatus classifies a backend's health.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Health is the result of a backend health probe.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// InvalidationMessage is broadcast on the shared invalidation channel.
// Delivery is advisory and best-effort: no acknowledgement, no replay.
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
}

// Cache is the uniform contract implemented by every backend. Callers must
// not assume which concrete backend they hold.
type Cache interface {
	// Get returns the live value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (interface{}, error)

	// GetEntry returns the live entry (value plus write metadata) for key.
	GetEntry(ctx context.Context, key string) (*Entry, error)

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a single key.
	Delete(ctx context.Context, key string) error

	// DeleteAll removes every key owned by this backend.
	DeleteAll(ctx context.Context) error

	// Stats returns a snapshot of the backend's counters.
	Stats(ctx context.Context) Statistics

	// Close releases backend resources.
	Close() error
}

// PatternCache extends Cache with key enumeration by glob pattern.
type PatternCache interface {
	Cache

	// Exists reports whether a live entry is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire resets the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// KeysByPattern returns all keys matching the glob pattern.
	KeysByPattern(ctx context.Context, pattern string) ([]string, error)

	// DeleteByPattern removes all keys matching the glob pattern and
	// returns how many were removed.
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
}

// DistributedCache extends PatternCache with cross-instance invalidation
// and health probing. Implemented by the remote and hybrid backends.
type DistributedCache interface {
	PatternCache

	// InvalidateDistributed broadcasts a best-effort drop-this-key message
	// to every subscribed instance.
	InvalidateDistributed(ctx context.Context, key string) error

	// SubscribeInvalidations registers a callback invoked for every
	// invalidation broadcast received. The subscription lives until Close.
	SubscribeInvalidations(ctx context.Context, fn func(InvalidationMessage)) error

	// HealthCheck probes the backend and classifies its status.
	HealthCheck(ctx context.Context) Health
}
