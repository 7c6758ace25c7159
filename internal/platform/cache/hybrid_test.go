package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// stubRemote is a scriptable DistributedCache for exercising the hybrid
// backend without a live store.
type stubRemote struct {
	mu      sync.Mutex
	entries map[string]*Entry

	failAll   bool
	readDelay time.Duration

	invalidated []string
	subscriber  func(InvalidationMessage)
	health      Health
}

func newStubRemote() *stubRemote {
	return &stubRemote{
		entries: make(map[string]*Entry),
		health:  Health{Status: StatusHealthy},
	}
}

var errStubRemoteDown = errors.New("stub remote down")

func (s *stubRemote) Get(ctx context.Context, key string) (interface{}, error) {
	entry, err := s.GetEntry(ctx, key)
	if err != nil {
		return nil, err
	}
	return entry.Data, nil
}

func (s *stubRemote) GetEntry(ctx context.Context, key string) (*Entry, error) {
	if s.readDelay > 0 {
		select {
		case <-time.After(s.readDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.failAll {
		return nil, errStubRemoteDown
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (s *stubRemote) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	if s.failAll {
		return errStubRemoteDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &Entry{Data: value, Timestamp: time.Now(), TTL: ttl}
	return nil
}

func (s *stubRemote) Delete(_ context.Context, key string) error {
	if s.failAll {
		return errStubRemoteDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *stubRemote) DeleteAll(_ context.Context) error {
	if s.failAll {
		return errStubRemoteDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
	return nil
}

func (s *stubRemote) Exists(_ context.Context, key string) (bool, error) {
	if s.failAll {
		return false, errStubRemoteDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok, nil
}

func (s *stubRemote) Expire(_ context.Context, key string, ttl time.Duration) error {
	if s.failAll {
		return errStubRemoteDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return ErrNotFound
	}
	entry.Timestamp = time.Now()
	entry.TTL = ttl
	return nil
}

func (s *stubRemote) KeysByPattern(_ context.Context, _ string) ([]string, error) {
	if s.failAll {
		return nil, errStubRemoteDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *stubRemote) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	if s.failAll {
		return 0, errStubRemoteDown
	}
	keys, _ := s.KeysByPattern(ctx, pattern)
	for _, k := range keys {
		s.Delete(ctx, k)
	}
	return len(keys), nil
}

func (s *stubRemote) InvalidateDistributed(_ context.Context, key string) error {
	if s.failAll {
		return errStubRemoteDown
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.invalidated = append(s.invalidated, key)
	fn := s.subscriber
	s.mu.Unlock()

	if fn != nil {
		fn(InvalidationMessage{Key: key, Timestamp: time.Now()})
	}
	return nil
}

func (s *stubRemote) SubscribeInvalidations(_ context.Context, fn func(InvalidationMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriber = fn
	return nil
}

func (s *stubRemote) HealthCheck(_ context.Context) Health {
	return s.health
}

func (s *stubRemote) Stats(_ context.Context) Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Statistics{Size: len(s.entries)}
}

func (s *stubRemote) Close() error { return nil }

func newTestHybrid(t *testing.T, remote *stubRemote) (*HybridCache, *MemoryCache) {
	t.Helper()

	local := newTestMemoryCache(t, MemoryCacheConfig{})
	h, err := NewHybridCache(HybridCacheConfig{
		Remote:      remote,
		Local:       local,
		ReadTimeout: 50 * time.Millisecond,
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("NewHybridCache failed: %v", err)
	}
	return h, local
}

func TestHybridCache_Set_WritesBothTiers(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	h, local := newTestHybrid(t, remote)

	if err := h.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := remote.Get(ctx, "k"); err != nil {
		t.Errorf("remote copy missing: %v", err)
	}
	if _, err := local.Get(ctx, "k"); err != nil {
		t.Errorf("local copy missing: %v", err)
	}
}

func TestHybridCache_Set_SurvivesRemoteFailure(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	remote.failAll = true
	h, local := newTestHybrid(t, remote)

	if err := h.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set with failing remote should succeed, got %v", err)
	}

	if _, err := local.Get(ctx, "k"); err != nil {
		t.Errorf("local copy missing: %v", err)
	}
}

func TestHybridCache_Get_PrefersRemote(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	h, local := newTestHybrid(t, remote)

	remote.Set(ctx, "k", "remote-value", time.Minute)
	local.Set(ctx, "k", "local-value", time.Minute)

	got, err := h.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "remote-value" {
		t.Errorf("expected remote copy, got %v", got)
	}
}

func TestHybridCache_Get_FallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	remote.failAll = true
	h, local := newTestHybrid(t, remote)

	local.Set(ctx, "k", "local-value", time.Minute)

	got, err := h.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "local-value" {
		t.Errorf("expected local copy, got %v", got)
	}
}

func TestHybridCache_Get_RemoteTimeout(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	remote.readDelay = 500 * time.Millisecond // longer than the 50ms read timeout
	h, local := newTestHybrid(t, remote)

	local.Set(ctx, "k", "local-value", time.Minute)

	start := time.Now()
	got, err := h.Get(ctx, "k")
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "local-value" {
		t.Errorf("expected local copy after timeout, got %v", got)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("read did not respect the timeout, took %v", elapsed)
	}
}

func TestHybridCache_Get_BackfillsLocal(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	h, local := newTestHybrid(t, remote)

	remote.Set(ctx, "k", "v", time.Minute)

	if _, err := h.Get(ctx, "k"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if _, err := local.Get(ctx, "k"); err != nil {
		t.Errorf("remote hit was not backfilled into the local tier: %v", err)
	}
}

func TestHybridCache_InvalidateDistributed(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	h, local := newTestHybrid(t, remote)

	h.Set(ctx, "k", "v", time.Minute)

	if err := h.InvalidateDistributed(ctx, "k"); err != nil {
		t.Fatalf("InvalidateDistributed failed: %v", err)
	}

	if _, err := local.Get(ctx, "k"); err != ErrNotFound {
		t.Errorf("local copy should be dropped, got %v", err)
	}
	if len(remote.invalidated) != 1 || remote.invalidated[0] != "k" {
		t.Errorf("expected remote broadcast for k, got %v", remote.invalidated)
	}
}

func TestHybridCache_SubscribeInvalidations_DropsLocalCopy(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	h, local := newTestHybrid(t, remote)

	var received []string
	if err := h.SubscribeInvalidations(ctx, func(msg InvalidationMessage) {
		received = append(received, msg.Key)
	}); err != nil {
		t.Fatalf("SubscribeInvalidations failed: %v", err)
	}

	local.Set(ctx, "k", "v", time.Minute)

	// Simulate another instance broadcasting an invalidation
	remote.InvalidateDistributed(ctx, "k")

	if _, err := local.Get(ctx, "k"); err != ErrNotFound {
		t.Errorf("local copy should be dropped on broadcast, got %v", err)
	}
	if len(received) != 1 || received[0] != "k" {
		t.Errorf("expected callback for k, got %v", received)
	}
}

func TestHybridCache_StatsByTier(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	h, local := newTestHybrid(t, remote)

	remote.Set(ctx, "r", 1, time.Minute)
	local.Set(ctx, "l1", 1, time.Minute)
	local.Set(ctx, "l2", 2, time.Minute)

	tiers := h.StatsByTier(ctx)
	if tiers["redis"].Size != 1 {
		t.Errorf("expected remote size 1, got %d", tiers["redis"].Size)
	}
	if tiers["memory"].Size != 2 {
		t.Errorf("expected local size 2, got %d", tiers["memory"].Size)
	}
}

func TestHybridCache_HealthCheck_Rollup(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	h, _ := newTestHybrid(t, remote)

	if health := h.HealthCheck(ctx); health.Status != StatusHealthy {
		t.Errorf("healthy remote: expected healthy rollup, got %s", health.Status)
	}

	remote.health = Health{Status: StatusUnhealthy}
	if health := h.HealthCheck(ctx); health.Status != StatusDegraded {
		t.Errorf("unhealthy remote: expected degraded rollup, got %s", health.Status)
	}
}
