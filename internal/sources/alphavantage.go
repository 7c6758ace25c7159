package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const alphaVantageName = "alpha_vantage"

// AlphaVantage resolves company market capitalization for stock tickers via
// the Alpha Vantage company overview endpoint. It requires an API key.
type AlphaVantage struct {
	healthTracker
	cfg    Config
	client *restClient
}

type alphaVantageOverview struct {
	Symbol               string `json:"Symbol"`
	Currency             string `json:"Currency"`
	MarketCapitalization string `json:"MarketCapitalization"`
	Note                 string `json:"Note"`
}

// NewAlphaVantage creates the Alpha Vantage adapter.
func NewAlphaVantage(cfg Config, deps Deps) *AlphaVantage {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.alphavantage.co"
	}
	if cfg.RateLimitRPM == 0 {
		cfg.RateLimitRPM = 5 // free tier
	}

	a := &AlphaVantage{
		healthTracker: newHealthTracker(alphaVantageName),
		cfg:           cfg,
	}
	a.client = newRESTClient(restClientConfig{
		Name:            alphaVantageName,
		RateLimitRPM:    cfg.RateLimitRPM,
		RateLimitBurst:  cfg.RateLimitBurst,
		Cache:           deps.Cache,
		CacheTTL:        deps.CacheTTL,
		Logger:          deps.Logger,
		Metrics:         deps.Metrics,
		OnCircuitChange: a.setCircuitState,
	})
	return a
}

func (a *AlphaVantage) Name() string { return alphaVantageName }

// Available reports whether an API key is configured.
func (a *AlphaVantage) Available() bool { return a.cfg.APIKey != "" }

// FetchMarketSize returns the ticker's market capitalization. Region is
// ignored: Alpha Vantage resolves symbols globally.
func (a *AlphaVantage) FetchMarketSize(ctx context.Context, id, region string) (*MarketSize, error) {
	key := CacheKey(alphaVantageName, "market_cap", map[string]string{"symbol": id})
	if ms, ok := a.client.cachedMarketSize(ctx, key); ok {
		return ms, nil
	}

	q := url.Values{}
	q.Set("function", "OVERVIEW")
	q.Set("symbol", id)
	q.Set("apikey", a.cfg.APIKey)
	endpoint := a.cfg.BaseURL + "/query?" + q.Encode()

	start := time.Now()
	var overview alphaVantageOverview
	err := a.client.getJSON(ctx, endpoint, &overview)
	duration := time.Since(start)
	a.client.metrics.RecordSourceCall(ctx, alphaVantageName, duration, err)

	if err != nil {
		a.recordFailure(err, duration)
		return nil, err
	}
	a.recordSuccess(duration)

	// Unknown symbols come back as an empty object; throttling as a Note.
	if overview.MarketCapitalization == "" || overview.MarketCapitalization == "None" {
		return nil, ErrNoData
	}

	value, err := strconv.ParseFloat(overview.MarketCapitalization, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: parse market capitalization %q: %w",
			alphaVantageName, overview.MarketCapitalization, err)
	}

	ms := &MarketSize{
		Value:    value,
		Currency: overview.Currency,
		Series:   overview.Symbol,
	}
	a.client.storeMarketSize(ctx, key, ms)
	return ms, nil
}
