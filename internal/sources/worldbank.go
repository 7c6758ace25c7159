package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

const worldBankName = "world_bank"

// worldBankDefaultIndicator is current-USD GDP, the broadest market proxy
// available when the identifier does not name a World Bank indicator.
const worldBankDefaultIndicator = "NY.GDP.MKTP.CD"

// WorldBank fetches the most recent non-empty value of a World Bank
// indicator for a country. No key is required.
type WorldBank struct {
	healthTracker
	cfg    Config
	client *restClient
}

type worldBankObservation struct {
	Value *float64 `json:"value"`
	Date  string   `json:"date"`
	Indicator struct {
		ID string `json:"id"`
	} `json:"indicator"`
}

// NewWorldBank creates the World Bank adapter.
func NewWorldBank(cfg Config, deps Deps) *WorldBank {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.worldbank.org"
	}
	if cfg.RateLimitRPM == 0 {
		cfg.RateLimitRPM = 60
	}

	w := &WorldBank{
		healthTracker: newHealthTracker(worldBankName),
		cfg:           cfg,
	}
	w.client = newRESTClient(restClientConfig{
		Name:            worldBankName,
		RateLimitRPM:    cfg.RateLimitRPM,
		RateLimitBurst:  cfg.RateLimitBurst,
		Cache:           deps.Cache,
		CacheTTL:        deps.CacheTTL,
		Logger:          deps.Logger,
		Metrics:         deps.Metrics,
		OnCircuitChange: w.setCircuitState,
	})
	return w
}

func (w *WorldBank) Name() string { return worldBankName }

// Available always reports true: the World Bank API is unauthenticated.
func (w *WorldBank) Available() bool { return true }

// FetchMarketSize returns the latest non-empty indicator value for the
// region's country. An id that is not a World Bank indicator code falls back
// to current-USD GDP, making this the chain's last-resort real source.
func (w *WorldBank) FetchMarketSize(ctx context.Context, id, region string) (*MarketSize, error) {
	indicator := id
	if !looksLikeIndicator(id) {
		indicator = worldBankDefaultIndicator
	}
	country := region
	if country == "" {
		country = "US"
	}

	key := CacheKey(worldBankName, "latest_indicator", map[string]string{
		"indicator": indicator,
		"country":   country,
	})
	if ms, ok := w.client.cachedMarketSize(ctx, key); ok {
		return ms, nil
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("per_page", "1")
	q.Set("mrnev", "1") // most recent non-empty value
	endpoint := fmt.Sprintf("%s/v2/country/%s/indicator/%s?%s",
		w.cfg.BaseURL, url.PathEscape(country), url.PathEscape(indicator), q.Encode())

	start := time.Now()
	// The response is a two-element array: paging metadata, then the data.
	var envelope []json.RawMessage
	err := w.client.getJSON(ctx, endpoint, &envelope)
	duration := time.Since(start)
	w.client.metrics.RecordSourceCall(ctx, worldBankName, duration, err)

	if err != nil {
		w.recordFailure(err, duration)
		return nil, err
	}
	w.recordSuccess(duration)

	if len(envelope) < 2 {
		return nil, ErrNoData
	}

	var observations []worldBankObservation
	if err := json.Unmarshal(envelope[1], &observations); err != nil {
		// Unknown countries and indicators answer with an error object here.
		return nil, ErrNoData
	}
	if len(observations) == 0 || observations[0].Value == nil {
		return nil, ErrNoData
	}

	obs := observations[0]
	ms := &MarketSize{
		Value:    *obs.Value,
		Currency: "USD",
		Year:     obs.Date,
		Series:   obs.Indicator.ID,
	}
	w.client.storeMarketSize(ctx, key, ms)
	return ms, nil
}

// looksLikeIndicator reports whether id resembles a World Bank indicator
// code such as "NY.GDP.MKTP.CD".
func looksLikeIndicator(id string) bool {
	dots := 0
	for _, r := range id {
		if r == '.' {
			dots++
		}
	}
	return dots >= 2
}
