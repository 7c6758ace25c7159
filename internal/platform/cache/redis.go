package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantrail/marketsizer/internal/platform/observability"
)

// ConnState is the remote backend's connection state. It is maintained by a
// supervising goroutine rather than ad-hoc callbacks so health checks can
// observe one authoritative value.
type ConnState int32

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDegraded // unreachable but serving from the in-process fallback
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// RedisCacheConfig configures the remote backend.
type RedisCacheConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces every key so pattern operations scope to this
	// cache instance. Defaults to "marketsizer".
	KeyPrefix string

	// EnableFallback routes operations to an internal in-process map while
	// the remote store is unreachable. Without it, operations fail with
	// ErrDisconnected instead.
	EnableFallback bool

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxReconnectAttempts caps reconnection tries before the backend gives
	// up until process restart. Defaults to 10.
	MaxReconnectAttempts int
	ReconnectInterval    time.Duration

	// LatencyThreshold separates healthy from degraded ping round-trips.
	LatencyThreshold time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

func (cfg *RedisCacheConfig) applyDefaults() {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "marketsizer"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 2 * time.Second
	}
	if cfg.LatencyThreshold <= 0 {
		cfg.LatencyThreshold = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger("info", "json")
	}
}

// RedisCache is the remote backend: a shared Redis store with namespaced
// keys, SCAN-based pattern operations, pub/sub invalidation broadcasts, and
// an optional in-process fallback for when the store is unreachable.
type RedisCache struct {
	client  *redis.Client
	prefix  string
	channel string

	fallback *fallbackStore // nil unless EnableFallback

	state       atomic.Int32
	reconnectCh chan struct{}
	stopCh      chan struct{}
	stopped     sync.Once

	maxReconnects     int
	reconnectInterval time.Duration
	dialTimeout       time.Duration
	latencyThreshold  time.Duration

	mu            sync.Mutex // guards lastRefreshed and sub
	lastRefreshed time.Time
	sub           *redis.PubSub

	hits   atomic.Int64
	misses atomic.Int64

	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRedisCache connects to the remote store. Construction succeeds even
// when the store is down; the backend starts degraded (or disconnected when
// fallback is disabled) and keeps trying to reconnect in the background.
func NewRedisCache(cfg RedisCacheConfig) *RedisCache {
	cfg.applyDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	r := &RedisCache{
		client:            client,
		prefix:            cfg.KeyPrefix,
		channel:           cfg.KeyPrefix + ":invalidations",
		reconnectCh:       make(chan struct{}, 1),
		stopCh:            make(chan struct{}),
		maxReconnects:     cfg.MaxReconnectAttempts,
		reconnectInterval: cfg.ReconnectInterval,
		dialTimeout:       cfg.DialTimeout,
		latencyThreshold:  cfg.LatencyThreshold,
		logger:            cfg.Logger,
		metrics:           cfg.Metrics,
		now:               time.Now,
	}

	if cfg.EnableFallback {
		r.fallback = newFallbackStore(r.now)
	}

	go r.supervise()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		r.logger.Warn("remote cache unreachable at startup", "addr", cfg.Addr, "error", err)
		r.markDisconnected(err)
	} else {
		r.setState(ConnConnected)
	}

	return r
}

// Get returns the live value for key, from the remote store or the fallback.
func (r *RedisCache) Get(ctx context.Context, key string) (interface{}, error) {
	entry, err := r.GetEntry(ctx, key)
	if err != nil {
		return nil, err
	}
	return entry.Data, nil
}

// GetEntry returns the live entry for key, or ErrNotFound.
func (r *RedisCache) GetEntry(ctx context.Context, key string) (*Entry, error) {
	if r.connected() {
		data, err := r.client.Get(ctx, r.keyed(key)).Bytes()
		switch {
		case err == nil:
			var entry Entry
			if uerr := json.Unmarshal(data, &entry); uerr != nil {
				// Unparsable remote value is a miss, not a failure
				r.logger.Warn("corrupt remote cache entry", "key", key, "error", uerr)
				r.misses.Add(1)
				return nil, ErrNotFound
			}
			if entry.Expired(r.now()) {
				r.misses.Add(1)
				return nil, ErrNotFound
			}
			r.hits.Add(1)
			return &entry, nil
		case errors.Is(err, redis.Nil):
			r.misses.Add(1)
			return nil, ErrNotFound
		default:
			r.markDisconnected(err)
		}
	}

	if r.fallback != nil {
		if entry, ok := r.fallback.get(key); ok {
			r.hits.Add(1)
			return entry, nil
		}
		r.misses.Add(1)
		return nil, ErrNotFound
	}

	r.misses.Add(1)
	return nil, ErrDisconnected
}

// Set stores value under key with the given TTL.
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	entry := &Entry{
		Data:      value,
		Timestamp: r.now(),
		TTL:       ttl,
	}

	if r.connected() {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal cache entry: %w", err)
		}

		if err := r.client.Set(ctx, r.keyed(key), data, ttl).Err(); err != nil {
			r.markDisconnected(err)
		} else {
			r.touchRefreshed(entry.Timestamp)
			return nil
		}
	}

	if r.fallback != nil {
		r.fallback.set(key, entry)
		r.touchRefreshed(entry.Timestamp)
		return nil
	}

	return ErrDisconnected
}

// Delete removes a single key.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if r.connected() {
		if err := r.client.Del(ctx, r.keyed(key)).Err(); err != nil {
			r.markDisconnected(err)
		} else {
			if r.fallback != nil {
				r.fallback.delete(key)
			}
			return nil
		}
	}

	if r.fallback != nil {
		r.fallback.delete(key)
		return nil
	}

	return ErrDisconnected
}

// DeleteAll removes every key in this instance's namespace.
func (r *RedisCache) DeleteAll(ctx context.Context) error {
	_, err := r.DeleteByPattern(ctx, "*")
	return err
}

// Exists reports whether a live entry is stored under key.
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	if r.connected() {
		n, err := r.client.Exists(ctx, r.keyed(key)).Result()
		if err == nil {
			return n > 0, nil
		}
		r.markDisconnected(err)
	}

	if r.fallback != nil {
		_, ok := r.fallback.get(key)
		return ok, nil
	}

	return false, ErrDisconnected
}

// Expire resets the TTL of an existing key.
func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if r.connected() {
		ok, err := r.client.Expire(ctx, r.keyed(key), ttl).Result()
		if err == nil {
			if !ok {
				return ErrNotFound
			}
			return nil
		}
		r.markDisconnected(err)
	}

	if r.fallback != nil {
		if !r.fallback.expire(key, ttl) {
			return ErrNotFound
		}
		return nil
	}

	return ErrDisconnected
}

// KeysByPattern returns all keys in this namespace matching the glob
// pattern. Returned keys have the namespace prefix stripped.
func (r *RedisCache) KeysByPattern(ctx context.Context, pattern string) ([]string, error) {
	if r.connected() {
		keys, err := r.scan(ctx, pattern)
		if err == nil {
			return keys, nil
		}
		r.markDisconnected(err)
	}

	if r.fallback != nil {
		return r.fallback.keys(pattern)
	}

	return nil, ErrDisconnected
}

// DeleteByPattern removes all keys matching the glob pattern.
func (r *RedisCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	if r.connected() {
		keys, err := r.scan(ctx, pattern)
		if err == nil {
			if len(keys) == 0 {
				return 0, nil
			}
			full := make([]string, len(keys))
			for i, k := range keys {
				full[i] = r.keyed(k)
			}
			if err := r.client.Del(ctx, full...).Err(); err == nil {
				if r.fallback != nil {
					_, _ = r.fallback.deleteByPattern(pattern)
				}
				return len(keys), nil
			} else {
				r.markDisconnected(err)
			}
		} else {
			r.markDisconnected(err)
		}
	}

	if r.fallback != nil {
		return r.fallback.deleteByPattern(pattern)
	}

	return 0, ErrDisconnected
}

// InvalidateDistributed broadcasts a best-effort invalidation for key on the
// shared channel. There is no acknowledgement and no replay on reconnect.
func (r *RedisCache) InvalidateDistributed(ctx context.Context, key string) error {
	if !r.connected() {
		return ErrDisconnected
	}

	msg := InvalidationMessage{Key: key, Timestamp: r.now()}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.markDisconnected(err)
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}

	r.metrics.RecordInvalidationPublished(ctx)
	return nil
}

// SubscribeInvalidations registers a callback invoked for every invalidation
// broadcast received on the shared channel.
func (r *RedisCache) SubscribeInvalidations(ctx context.Context, fn func(InvalidationMessage)) error {
	sub := r.client.Subscribe(ctx, r.channel)

	r.mu.Lock()
	if r.sub != nil {
		r.mu.Unlock()
		sub.Close()
		return fmt.Errorf("cache: invalidation subscription already active")
	}
	r.sub = sub
	r.mu.Unlock()

	go func() {
		for {
			select {
			case <-r.stopCh:
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var im InvalidationMessage
				if err := json.Unmarshal([]byte(msg.Payload), &im); err != nil {
					r.logger.Warn("malformed invalidation message", "error", err)
					continue
				}
				r.metrics.RecordInvalidationReceived(context.Background())
				fn(im)
			}
		}
	}()

	return nil
}

// HealthCheck pings the remote store and classifies the round-trip latency.
func (r *RedisCache) HealthCheck(ctx context.Context) Health {
	if r.connected() {
		start := r.now()
		err := r.client.Ping(ctx).Err()
		latency := r.now().Sub(start)

		if err == nil {
			status := StatusHealthy
			if latency > r.latencyThreshold {
				status = StatusDegraded
			}
			return Health{
				Status: status,
				Details: map[string]interface{}{
					"state":      r.State().String(),
					"latency_ms": latency.Milliseconds(),
				},
			}
		}
		r.markDisconnected(err)
	}

	if r.fallback != nil {
		return Health{
			Status: StatusDegraded,
			Details: map[string]interface{}{
				"state": r.State().String(),
				"mode":  "fallback",
			},
		}
	}

	return Health{
		Status: StatusUnhealthy,
		Details: map[string]interface{}{
			"state": r.State().String(),
		},
	}
}

// Stats returns a snapshot of the backend's counters. Size is the number of
// keys currently in this instance's namespace.
func (r *RedisCache) Stats(ctx context.Context) Statistics {
	size := 0
	if r.connected() {
		if keys, err := r.scan(ctx, "*"); err == nil {
			size = len(keys)
		}
	} else if r.fallback != nil {
		size = r.fallback.size()
	}

	r.mu.Lock()
	last := r.lastRefreshed
	r.mu.Unlock()

	return Statistics{
		Hits:          r.hits.Load(),
		Misses:        r.misses.Load(),
		Size:          size,
		LastRefreshed: last,
	}
}

// Close stops the supervisor, the subscription loop, and the client.
func (r *RedisCache) Close() error {
	var err error
	r.stopped.Do(func() {
		close(r.stopCh)

		r.mu.Lock()
		sub := r.sub
		r.sub = nil
		r.mu.Unlock()
		if sub != nil {
			sub.Close()
		}

		err = r.client.Close()
	})
	return err
}

// State returns the current connection state.
func (r *RedisCache) State() ConnState {
	return ConnState(r.state.Load())
}

func (r *RedisCache) setState(s ConnState) {
	r.state.Store(int32(s))
}

func (r *RedisCache) connected() bool {
	return r.State() == ConnConnected
}

// markDisconnected flips the state to degraded (with fallback) or
// disconnected and wakes the supervisor.
func (r *RedisCache) markDisconnected(err error) {
	if r.fallback != nil {
		r.setState(ConnDegraded)
	} else {
		r.setState(ConnDisconnected)
	}
	r.logger.Warn("remote cache error, marking disconnected", "error", err)

	select {
	case r.reconnectCh <- struct{}{}:
	default:
	}
}

// supervise owns the reconnect loop. Attempts are capped; once exhausted the
// backend stays on fallback (or disconnected) until process restart.
func (r *RedisCache) supervise() {
	attempts := 0

	for {
		select {
		case <-r.stopCh:
			return
		case <-r.reconnectCh:
		}

		for attempts < r.maxReconnects {
			select {
			case <-r.stopCh:
				return
			case <-time.After(r.reconnectInterval):
			}

			attempts++
			r.setState(ConnConnecting)

			ctx, cancel := context.WithTimeout(context.Background(), r.dialTimeout)
			err := r.client.Ping(ctx).Err()
			cancel()

			if err == nil {
				r.setState(ConnConnected)
				r.logger.Info("remote cache reconnected", "attempts", attempts)
				attempts = 0
				break
			}

			if r.fallback != nil {
				r.setState(ConnDegraded)
			} else {
				r.setState(ConnDisconnected)
			}
			r.logger.Warn("remote cache reconnect failed",
				"attempt", attempts,
				"max_attempts", r.maxReconnects,
				"error", err,
			)
		}

		if attempts >= r.maxReconnects {
			r.logger.Error("remote cache reconnect attempts exhausted, giving up until restart")
			return
		}
	}
}

// scan enumerates namespaced keys matching pattern, prefix stripped.
func (r *RedisCache) scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	match := r.keyed(pattern)

	for {
		batch, next, err := r.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			keys = append(keys, k[len(r.prefix)+1:])
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (r *RedisCache) keyed(key string) string {
	return r.prefix + ":" + key
}

func (r *RedisCache) touchRefreshed(t time.Time) {
	r.mu.Lock()
	r.lastRefreshed = t
	r.mu.Unlock()
}

// fallbackStore is the bare in-process map the remote backend serves from
// while disconnected. No disk persistence, no counters of its own.
type fallbackStore struct {
	mu    sync.RWMutex
	items map[string]*Entry
	now   func() time.Time
}

func newFallbackStore(now func() time.Time) *fallbackStore {
	return &fallbackStore{
		items: make(map[string]*Entry),
		now:   now,
	}
}

func (f *fallbackStore) get(key string) (*Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.items[key]
	if !ok {
		return nil, false
	}
	if entry.Expired(f.now()) {
		delete(f.items, key)
		return nil, false
	}
	return entry, true
}

func (f *fallbackStore) set(key string, entry *Entry) {
	f.mu.Lock()
	f.items[key] = entry
	f.mu.Unlock()
}

func (f *fallbackStore) delete(key string) {
	f.mu.Lock()
	delete(f.items, key)
	f.mu.Unlock()
}

func (f *fallbackStore) expire(key string, ttl time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.items[key]
	if !ok || entry.Expired(f.now()) {
		return false
	}
	entry.Timestamp = f.now()
	entry.TTL = ttl
	return true
}

func (f *fallbackStore) keys(pattern string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := f.now()
	var keys []string
	for key, entry := range f.items {
		if entry.Expired(now) {
			continue
		}
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *fallbackStore) deleteByPattern(pattern string) (int, error) {
	keys, err := f.keys(pattern)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	for _, key := range keys {
		delete(f.items, key)
	}
	f.mu.Unlock()

	return len(keys), nil
}

func (f *fallbackStore) size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.items)
}
