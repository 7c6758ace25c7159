package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// defaultBatchConcurrency bounds provider fan-out for batch lookups.
const defaultBatchConcurrency = 4

// BatchItem pairs one identifier from a batch with its lookup outcome.
type BatchItem struct {
	Identifier string
	Result     *Result
	Err        error
}

// LookupBatch resolves several identifiers concurrently, bounded by
// concurrency (defaulting when non-positive). Items come back in input
// order. Per-identifier failures land on the item; the call itself fails
// only when the context is cancelled mid-flight.
func (o *Orchestrator) LookupBatch(ctx context.Context, ids []string, region string, concurrency int) ([]BatchItem, error) {
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}

	items := make([]BatchItem, len(ids))
	limiter := semaphore.NewWeighted(int64(concurrency))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		items[i].Identifier = id

		g.Go(func() error {
			if err := limiter.Acquire(gctx, 1); err != nil {
				return err
			}
			defer limiter.Release(1)

			result, err := o.Lookup(gctx, id, region)
			items[i].Result = result
			items[i].Err = err
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}
