package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const fredName = "fred"

// FRED fetches the most recent observation of a FRED economic series. It
// requires an API key.
type FRED struct {
	healthTracker
	cfg    Config
	client *restClient
}

type fredObservationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// NewFRED creates the FRED adapter.
func NewFRED(cfg Config, deps Deps) *FRED {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.stlouisfed.org"
	}
	if cfg.RateLimitRPM == 0 {
		cfg.RateLimitRPM = 120
	}

	f := &FRED{
		healthTracker: newHealthTracker(fredName),
		cfg:           cfg,
	}
	f.client = newRESTClient(restClientConfig{
		Name:            fredName,
		RateLimitRPM:    cfg.RateLimitRPM,
		RateLimitBurst:  cfg.RateLimitBurst,
		Cache:           deps.Cache,
		CacheTTL:        deps.CacheTTL,
		Logger:          deps.Logger,
		Metrics:         deps.Metrics,
		OnCircuitChange: f.setCircuitState,
	})
	return f
}

func (f *FRED) Name() string { return fredName }

// Available reports whether an API key is configured.
func (f *FRED) Available() bool { return f.cfg.APIKey != "" }

// FetchMarketSize returns the latest observation for the series named by id.
// Region is ignored: FRED series encode their own geography.
func (f *FRED) FetchMarketSize(ctx context.Context, id, region string) (*MarketSize, error) {
	key := CacheKey(fredName, "latest_observation", map[string]string{"series_id": id})
	if ms, ok := f.client.cachedMarketSize(ctx, key); ok {
		return ms, nil
	}

	q := url.Values{}
	q.Set("series_id", id)
	q.Set("api_key", f.cfg.APIKey)
	q.Set("file_type", "json")
	q.Set("sort_order", "desc")
	q.Set("limit", "1")
	endpoint := f.cfg.BaseURL + "/fred/series/observations?" + q.Encode()

	start := time.Now()
	var resp fredObservationsResponse
	err := f.client.getJSON(ctx, endpoint, &resp)
	duration := time.Since(start)
	f.client.metrics.RecordSourceCall(ctx, fredName, duration, err)

	if err != nil {
		f.recordFailure(err, duration)
		return nil, err
	}
	f.recordSuccess(duration)

	if len(resp.Observations) == 0 {
		return nil, ErrNoData
	}

	obs := resp.Observations[0]
	// FRED reports missing observations as "."
	if obs.Value == "" || obs.Value == "." {
		return nil, ErrNoData
	}

	value, err := strconv.ParseFloat(obs.Value, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: parse observation %q: %w", fredName, obs.Value, err)
	}

	ms := &MarketSize{
		Value:    value,
		Currency: "USD",
		Year:     yearOf(obs.Date),
		Series:   id,
	}
	f.client.storeMarketSize(ctx, key, ms)
	return ms, nil
}

// yearOf extracts the year from an ISO date such as "2024-01-01".
func yearOf(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return date
}
