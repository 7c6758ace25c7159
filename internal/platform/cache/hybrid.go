package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quantrail/marketsizer/internal/platform/observability"
)

// HybridCache composes the remote backend with an independent in-process
// backend. Reads race the remote call against a timeout and fall back to the
// local copy; writes go to both best-effort, so one backend failing never
// fails the operation on its own.
type HybridCache struct {
	remote DistributedCache
	local  PatternCache

	readTimeout time.Duration
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// HybridCacheConfig configures the hybrid backend.
type HybridCacheConfig struct {
	Remote DistributedCache
	Local  PatternCache

	// ReadTimeout bounds the remote side of every read race. Defaults to 1s.
	ReadTimeout time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewHybridCache creates a hybrid backend from its two children.
func NewHybridCache(cfg HybridCacheConfig) (*HybridCache, error) {
	if cfg.Remote == nil || cfg.Local == nil {
		return nil, fmt.Errorf("hybrid cache: both remote and local backends are required")
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger("info", "json")
	}

	return &HybridCache{
		remote:      cfg.Remote,
		local:       cfg.Local,
		readTimeout: cfg.ReadTimeout,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}, nil
}

// Get returns the live value for key, preferring the remote copy.
func (h *HybridCache) Get(ctx context.Context, key string) (interface{}, error) {
	entry, err := h.GetEntry(ctx, key)
	if err != nil {
		return nil, err
	}
	return entry.Data, nil
}

// GetEntry races the remote read against the timeout, falling back to the
// local backend on timeout, remote error, or remote miss. A remote hit is
// backfilled into the local backend with its remaining lifetime.
func (h *HybridCache) GetEntry(ctx context.Context, key string) (*Entry, error) {
	type result struct {
		entry *Entry
		err   error
	}

	rctx, cancel := context.WithTimeout(ctx, h.readTimeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		entry, err := h.remote.GetEntry(rctx, key)
		ch <- result{entry, err}
	}()

	select {
	case res := <-ch:
		if res.err == nil {
			if remaining := time.Until(res.entry.Timestamp.Add(res.entry.TTL)); remaining > 0 {
				if err := h.local.Set(ctx, key, res.entry.Data, remaining); err != nil {
					h.logger.Warn("hybrid cache local backfill failed", "key", key, "error", err)
				}
			}
			h.metrics.RecordCacheHit(ctx, "hybrid")
			return res.entry, nil
		}
		if !errors.Is(res.err, ErrNotFound) {
			h.logger.Warn("hybrid cache remote read failed, using local", "key", key, "error", res.err)
		}
	case <-rctx.Done():
		h.logger.Warn("hybrid cache remote read timed out, using local", "key", key)
	}

	entry, err := h.local.GetEntry(ctx, key)
	if err != nil {
		h.metrics.RecordCacheMiss(ctx, "hybrid")
		return nil, err
	}
	h.metrics.RecordCacheHit(ctx, "hybrid")
	return entry, nil
}

// Set writes to both backends concurrently. A failure in either is logged
// and swallowed; Set fails only when both writes fail.
func (h *HybridCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var (
		wg                  sync.WaitGroup
		remoteErr, localErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		remoteErr = h.remote.Set(ctx, key, value, ttl)
	}()
	go func() {
		defer wg.Done()
		localErr = h.local.Set(ctx, key, value, ttl)
	}()
	wg.Wait()

	if remoteErr != nil {
		h.logger.Warn("hybrid cache remote write failed", "key", key, "error", remoteErr)
	}
	if localErr != nil {
		h.logger.Warn("hybrid cache local write failed", "key", key, "error", localErr)
	}
	if remoteErr != nil && localErr != nil {
		return fmt.Errorf("hybrid cache: both writes failed: %w", remoteErr)
	}

	return nil
}

// Delete removes key from both backends.
func (h *HybridCache) Delete(ctx context.Context, key string) error {
	remoteErr := h.remote.Delete(ctx, key)
	localErr := h.local.Delete(ctx, key)

	if remoteErr != nil && localErr != nil {
		return fmt.Errorf("hybrid cache: both deletes failed: %w", remoteErr)
	}
	return nil
}

// DeleteAll clears both backends.
func (h *HybridCache) DeleteAll(ctx context.Context) error {
	remoteErr := h.remote.DeleteAll(ctx)
	localErr := h.local.DeleteAll(ctx)

	if remoteErr != nil && localErr != nil {
		return fmt.Errorf("hybrid cache: clearing both backends failed: %w", remoteErr)
	}
	return nil
}

// Exists consults the remote store, falling back to the local backend.
func (h *HybridCache) Exists(ctx context.Context, key string) (bool, error) {
	rctx, cancel := context.WithTimeout(ctx, h.readTimeout)
	defer cancel()

	if ok, err := h.remote.Exists(rctx, key); err == nil {
		return ok, nil
	}
	return h.local.Exists(ctx, key)
}

// Expire resets the TTL on both backends best-effort.
func (h *HybridCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	remoteErr := h.remote.Expire(ctx, key, ttl)
	localErr := h.local.Expire(ctx, key, ttl)

	if remoteErr != nil && localErr != nil {
		return remoteErr
	}
	return nil
}

// KeysByPattern enumerates the remote namespace, falling back to local keys.
func (h *HybridCache) KeysByPattern(ctx context.Context, pattern string) ([]string, error) {
	rctx, cancel := context.WithTimeout(ctx, h.readTimeout)
	defer cancel()

	if keys, err := h.remote.KeysByPattern(rctx, pattern); err == nil {
		return keys, nil
	}
	return h.local.KeysByPattern(ctx, pattern)
}

// DeleteByPattern removes matching keys from both backends.
func (h *HybridCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	remoteN, remoteErr := h.remote.DeleteByPattern(ctx, pattern)
	localN, localErr := h.local.DeleteByPattern(ctx, pattern)

	if remoteErr != nil {
		if localErr != nil {
			return 0, remoteErr
		}
		return localN, nil
	}
	if remoteN > localN {
		return remoteN, nil
	}
	return localN, nil
}

// InvalidateDistributed drops the local copy and broadcasts the invalidation
// to other instances through the remote backend.
func (h *HybridCache) InvalidateDistributed(ctx context.Context, key string) error {
	if err := h.local.Delete(ctx, key); err != nil {
		h.logger.Warn("hybrid cache local invalidation failed", "key", key, "error", err)
	}
	return h.remote.InvalidateDistributed(ctx, key)
}

// SubscribeInvalidations receives broadcasts from other instances, dropping
// the local copy before invoking the caller's callback.
func (h *HybridCache) SubscribeInvalidations(ctx context.Context, fn func(InvalidationMessage)) error {
	return h.remote.SubscribeInvalidations(ctx, func(msg InvalidationMessage) {
		if err := h.local.Delete(context.Background(), msg.Key); err != nil {
			h.logger.Warn("hybrid cache invalidation delete failed", "key", msg.Key, "error", err)
		}
		if fn != nil {
			fn(msg)
		}
	})
}

// Stats merges both children's counters. Size reports the remote namespace
// when reachable since it is the shared source of truth.
func (h *HybridCache) Stats(ctx context.Context) Statistics {
	remote := h.remote.Stats(ctx)
	local := h.local.Stats(ctx)

	merged := Statistics{
		Hits:          remote.Hits + local.Hits,
		Misses:        remote.Misses + local.Misses,
		Size:          remote.Size,
		LastRefreshed: remote.LastRefreshed,
	}
	if merged.Size == 0 {
		merged.Size = local.Size
	}
	if local.LastRefreshed.After(merged.LastRefreshed) {
		merged.LastRefreshed = local.LastRefreshed
	}
	return merged
}

// StatsByTier exposes each child's counters separately.
func (h *HybridCache) StatsByTier(ctx context.Context) map[string]Statistics {
	return map[string]Statistics{
		"redis":  h.remote.Stats(ctx),
		"memory": h.local.Stats(ctx),
	}
}

// HealthCheck reports both children plus an overall rollup that is healthy
// only when the remote child is healthy.
func (h *HybridCache) HealthCheck(ctx context.Context) Health {
	remote := h.remote.HealthCheck(ctx)

	local := Health{
		Status: StatusHealthy,
		Details: map[string]interface{}{
			"size": h.local.Stats(ctx).Size,
		},
	}

	status := StatusDegraded
	if remote.Status == StatusHealthy {
		status = StatusHealthy
	}

	return Health{
		Status: status,
		Details: map[string]interface{}{
			"redis":  remote,
			"memory": local,
		},
	}
}

// Close closes both children.
func (h *HybridCache) Close() error {
	remoteErr := h.remote.Close()
	localErr := h.local.Close()

	if remoteErr != nil {
		return remoteErr
	}
	return localErr
}
