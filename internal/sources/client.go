package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quantrail/marketsizer/internal/platform/cache"
	"github.com/quantrail/marketsizer/internal/platform/observability"
	"github.com/quantrail/marketsizer/internal/platform/resilience"
)

// maxResponseBytes bounds provider response bodies.
const maxResponseBytes = 4 << 20

// restClient is the shared plumbing for every provider adapter: cache-first
// reads, token-bucket rate limiting, retries with backoff, and a circuit
// breaker per provider. Adapters stay thin URL builders and payload parsers.
type restClient struct {
	name     string
	http     *http.Client
	limiter  *resilience.RateLimiter
	retryCfg resilience.RetryConfig
	cb       *resilience.CircuitBreaker
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// restClientConfig configures the shared provider plumbing.
type restClientConfig struct {
	Name           string
	RateLimitRPM   int
	RateLimitBurst int
	Cache          cache.Cache
	CacheTTL       time.Duration
	Logger         *observability.Logger
	Metrics        *observability.Metrics

	// OnCircuitChange is invoked with the new state name whenever the
	// provider's circuit breaker transitions.
	OnCircuitChange func(state string)
}

func newRESTClient(cfg restClientConfig) *restClient {
	if cfg.RateLimitRPM <= 0 {
		cfg.RateLimitRPM = 60
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger("info", "json")
	}

	metrics := cfg.Metrics
	onChange := cfg.OnCircuitChange
	name := cfg.Name

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		OnStateChange: func(from, to resilience.State) {
			metrics.SetCircuitBreakerState(context.Background(), name, int64(to))
			if onChange != nil {
				onChange(to.String())
			}
		},
	})

	return &restClient{
		name:     name,
		http:     &http.Client{Timeout: 10 * time.Second},
		limiter:  resilience.NewRateLimiterFromRPM(cfg.RateLimitRPM, cfg.RateLimitBurst),
		retryCfg: resilience.DefaultRetryConfig(),
		cb:       cb,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		logger:   cfg.Logger,
		metrics:  metrics,
	}
}

// getJSON performs a rate-limited, retried GET and decodes the body into out.
func (c *restClient) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", c.name, err)
	}

	body, err := resilience.RetryIfWithResult(ctx, c.retryCfg, resilience.IsRetryable,
		func(ctx context.Context) ([]byte, error) {
			return resilience.ExecuteWithResult(c.cb, ctx, func(ctx context.Context) ([]byte, error) {
				return c.doGet(ctx, rawURL)
			})
		})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return nil
}

func (c *restClient) doGet(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%s: unexpected status code %d", c.name, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

// cachedMarketSize returns the cached answer for key, if any.
func (c *restClient) cachedMarketSize(ctx context.Context, key string) (*MarketSize, bool) {
	if c.cache == nil {
		return nil, false
	}

	v, err := c.cache.Get(ctx, key)
	if err != nil {
		c.metrics.RecordCacheMiss(ctx, c.name)
		return nil, false
	}

	ms, ok := decodeMarketSize(v)
	if !ok {
		c.metrics.RecordCacheMiss(ctx, c.name)
		return nil, false
	}

	c.metrics.RecordCacheHit(ctx, c.name)
	return ms, true
}

// storeMarketSize caches the answer best-effort.
func (c *restClient) storeMarketSize(ctx context.Context, key string, ms *MarketSize) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, key, ms, c.cacheTTL); err != nil {
		c.logger.LogWarn(ctx, "failed to cache provider result", "source", c.name, "key", key, "error", err)
	}
}
