package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/quantrail/marketsizer/internal/platform/observability"
	"github.com/quantrail/marketsizer/internal/platform/worker"
)

// WarmupSource is implemented by anything that can pre-populate the cache,
// typically a data source adapter fetching its most-requested series.
// Warmup must be idempotent and safe to call multiple times.
type WarmupSource interface {
	// Name returns a human-readable name for logging purposes
	Name() string

	// Warmup pre-populates the cache with initial data.
	Warmup(ctx context.Context) error
}

// WarmupConfig configures the cache warming behavior.
type WarmupConfig struct {
	// Timeout is the maximum duration to wait for all sources to complete
	Timeout time.Duration

	// ContinueOnError determines whether to continue warming if a source fails
	ContinueOnError bool

	// Parallel determines whether to warm sources concurrently
	Parallel bool

	// Workers bounds concurrency in parallel mode
	Workers int
}

// DefaultWarmupConfig returns sensible defaults for cache warming.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Timeout:         30 * time.Second,
		ContinueOnError: true,
		Parallel:        true,
		Workers:         4,
	}
}

// WarmupResult contains the result of warming a single source.
type WarmupResult struct {
	Source   string
	Duration time.Duration
	Err      error
}

// WarmupResults contains the aggregate results of cache warming.
type WarmupResults struct {
	Results   []WarmupResult
	TotalTime time.Duration
	Errors    int
}

// HasErrors returns true if any source failed during warmup.
func (wr *WarmupResults) HasErrors() bool {
	return wr.Errors > 0
}

// Warmer handles cache warming operations.
type Warmer struct {
	sources []WarmupSource
	logger  *observability.Logger
	config  WarmupConfig
}

// NewWarmer creates a new cache warmer.
func NewWarmer(logger *observability.Logger, config WarmupConfig) *Warmer {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	return &Warmer{
		sources: make([]WarmupSource, 0),
		logger:  logger,
		config:  config,
	}
}

// Register adds a warmup source to the warmer.
func (w *Warmer) Register(source WarmupSource) {
	w.sources = append(w.sources, source)
}

// Warmup executes all registered warmup sources and returns aggregate
// results including timing and errors.
func (w *Warmer) Warmup(ctx context.Context) *WarmupResults {
	start := time.Now()
	results := &WarmupResults{
		Results: make([]WarmupResult, 0, len(w.sources)),
	}

	if len(w.sources) == 0 {
		results.TotalTime = time.Since(start)
		return results
	}

	warmupCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	if w.config.Parallel {
		results.Results = w.warmupParallel(warmupCtx)
	} else {
		results.Results = w.warmupSequential(warmupCtx)
	}

	for _, r := range results.Results {
		if r.Err != nil {
			results.Errors++
		}
	}

	results.TotalTime = time.Since(start)

	if results.Errors > 0 {
		w.logger.LogWarn(ctx, fmt.Sprintf("cache warmup completed with %d/%d errors in %v",
			results.Errors, len(w.sources), results.TotalTime))
	} else {
		w.logger.LogInfo(ctx, fmt.Sprintf("cache warmup completed (%d sources) in %v",
			len(w.sources), results.TotalTime))
	}

	return results
}

// warmupParallel warms all sources through a bounded worker pool.
func (w *Warmer) warmupParallel(ctx context.Context) []WarmupResult {
	pool := worker.NewPool(ctx, w.config.Workers, len(w.sources))
	defer pool.Close()

	jobs := make([]worker.Job, 0, len(w.sources))
	for _, source := range w.sources {
		src := source
		jobs = append(jobs, worker.Job{
			ID: src.Name(),
			Execute: func(jobCtx context.Context) (interface{}, error) {
				return w.warmupSource(jobCtx, src), nil
			},
		})
	}

	results := make([]WarmupResult, 0, len(jobs))
	for _, r := range pool.SubmitAndWait(jobs) {
		if wr, ok := r.Value.(WarmupResult); ok {
			results = append(results, wr)
		}
	}

	return results
}

// warmupSequential warms sources one at a time.
func (w *Warmer) warmupSequential(ctx context.Context) []WarmupResult {
	results := make([]WarmupResult, 0, len(w.sources))

	for _, source := range w.sources {
		result := w.warmupSource(ctx, source)
		results = append(results, result)

		if result.Err != nil && !w.config.ContinueOnError {
			break
		}
	}

	return results
}

// warmupSource warms a single source and returns the result.
func (w *Warmer) warmupSource(ctx context.Context, source WarmupSource) WarmupResult {
	start := time.Now()
	name := source.Name()

	w.logger.LogDebug(ctx, fmt.Sprintf("warming cache: %s", name))

	err := source.Warmup(ctx)
	duration := time.Since(start)

	if err != nil {
		w.logger.LogWarn(ctx, fmt.Sprintf("cache warmup failed for %s: %v (took %v)", name, err, duration))
	} else {
		w.logger.LogDebug(ctx, fmt.Sprintf("cache warmup completed for %s in %v", name, duration))
	}

	return WarmupResult{
		Source:   name,
		Duration: duration,
		Err:      err,
	}
}
