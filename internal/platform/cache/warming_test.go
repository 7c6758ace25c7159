package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeWarmupSource struct {
	name  string
	err   error
	delay time.Duration
	calls int32
}

func (f *fakeWarmupSource) Name() string { return f.name }

func (f *fakeWarmupSource) Warmup(ctx context.Context) error {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func TestWarmer_NoSources(t *testing.T) {
	w := NewWarmer(testLogger(), DefaultWarmupConfig())

	results := w.Warmup(context.Background())
	if len(results.Results) != 0 {
		t.Errorf("expected no results, got %d", len(results.Results))
	}
	if results.HasErrors() {
		t.Error("empty warmup must not report errors")
	}
}

func TestWarmer_Sequential(t *testing.T) {
	cfg := DefaultWarmupConfig()
	cfg.Parallel = false
	w := NewWarmer(testLogger(), cfg)

	a := &fakeWarmupSource{name: "a"}
	b := &fakeWarmupSource{name: "b", err: errors.New("upstream down")}
	c := &fakeWarmupSource{name: "c"}
	w.Register(a)
	w.Register(b)
	w.Register(c)

	results := w.Warmup(context.Background())
	if len(results.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results.Results))
	}
	if results.Errors != 1 {
		t.Errorf("expected 1 error, got %d", results.Errors)
	}
	if !results.HasErrors() {
		t.Error("HasErrors should report the failed source")
	}
	if c.calls != 1 {
		t.Error("warmup should continue past failures by default")
	}
}

func TestWarmer_SequentialStopsOnError(t *testing.T) {
	cfg := DefaultWarmupConfig()
	cfg.Parallel = false
	cfg.ContinueOnError = false
	w := NewWarmer(testLogger(), cfg)

	a := &fakeWarmupSource{name: "a", err: errors.New("boom")}
	b := &fakeWarmupSource{name: "b"}
	w.Register(a)
	w.Register(b)

	results := w.Warmup(context.Background())
	if len(results.Results) != 1 {
		t.Errorf("expected warmup to stop after first failure, got %d results", len(results.Results))
	}
	if b.calls != 0 {
		t.Error("second source must not run after a failure")
	}
}

func TestWarmer_Parallel(t *testing.T) {
	cfg := DefaultWarmupConfig()
	cfg.Workers = 4
	w := NewWarmer(testLogger(), cfg)

	srcs := []*fakeWarmupSource{
		{name: "a", delay: 30 * time.Millisecond},
		{name: "b", delay: 30 * time.Millisecond},
		{name: "c", delay: 30 * time.Millisecond},
		{name: "d", delay: 30 * time.Millisecond},
	}
	for _, s := range srcs {
		w.Register(s)
	}

	start := time.Now()
	results := w.Warmup(context.Background())
	elapsed := time.Since(start)

	if len(results.Results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results.Results))
	}
	for _, s := range srcs {
		if atomic.LoadInt32(&s.calls) != 1 {
			t.Errorf("source %s called %d times", s.name, s.calls)
		}
	}
	// Four 30ms sources on four workers should finish well under 120ms
	if elapsed > 100*time.Millisecond {
		t.Errorf("parallel warmup took %v, expected concurrent execution", elapsed)
	}
}

func TestWarmer_Timeout(t *testing.T) {
	cfg := DefaultWarmupConfig()
	cfg.Timeout = 50 * time.Millisecond
	cfg.Parallel = false
	w := NewWarmer(testLogger(), cfg)

	slow := &fakeWarmupSource{name: "slow", delay: time.Second}
	w.Register(slow)

	results := w.Warmup(context.Background())
	if results.Errors != 1 {
		t.Errorf("expected the slow source to fail with a deadline error, got %d errors", results.Errors)
	}
	if results.TotalTime > 500*time.Millisecond {
		t.Errorf("warmup should abort at the timeout, took %v", results.TotalTime)
	}
}
