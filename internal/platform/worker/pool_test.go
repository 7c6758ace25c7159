package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_SubmitAndWait(t *testing.T) {
	pool := NewPool(context.Background(), 4, 16)
	defer pool.Close()

	jobs := make([]Job, 10)
	for i := range jobs {
		i := i
		jobs[i] = Job{
			ID: fmt.Sprintf("job-%d", i),
			Execute: func(ctx context.Context) (interface{}, error) {
				return i * 2, nil
			},
		}
	}

	results := pool.SubmitAndWait(jobs)
	if len(results) != len(jobs) {
		t.Fatalf("expected %d results, got %d", len(jobs), len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("job %s failed: %v", r.JobID, r.Err)
		}
	}
}

func TestPool_PropagatesJobErrors(t *testing.T) {
	pool := NewPool(context.Background(), 2, 8)
	defer pool.Close()

	wantErr := errors.New("job failure")
	results := pool.SubmitAndWait([]Job{
		{ID: "ok", Execute: func(ctx context.Context) (interface{}, error) { return 1, nil }},
		{ID: "bad", Execute: func(ctx context.Context) (interface{}, error) { return nil, wantErr }},
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	failures := 0
	for _, r := range results {
		if r.Err != nil {
			failures++
			if r.JobID != "bad" {
				t.Errorf("unexpected failing job %q", r.JobID)
			}
		}
	}
	if failures != 1 {
		t.Errorf("expected 1 failure, got %d", failures)
	}
}

func TestPool_RunsConcurrently(t *testing.T) {
	pool := NewPool(context.Background(), 4, 8)
	defer pool.Close()

	var peak, current int32
	jobs := make([]Job, 8)
	for i := range jobs {
		jobs[i] = Job{
			Execute: func(ctx context.Context) (interface{}, error) {
				n := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil, nil
			},
		}
	}

	pool.SubmitAndWait(jobs)
	if atomic.LoadInt32(&peak) < 2 {
		t.Errorf("expected concurrent execution, peak parallelism was %d", peak)
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	pool := NewPool(context.Background(), 1, 0)
	pool.Close()

	err := pool.Submit(Job{Execute: func(ctx context.Context) (interface{}, error) { return nil, nil }})
	if err == nil {
		t.Error("expected error submitting to a closed pool")
	}
}

func TestPool_DefaultsWorkers(t *testing.T) {
	pool := NewPool(context.Background(), 0, 0)
	defer pool.Close()

	if pool.Workers() != 1 {
		t.Errorf("expected 1 worker for non-positive count, got %d", pool.Workers())
	}
}
