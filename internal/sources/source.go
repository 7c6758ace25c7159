// Package sources provides adapters for the external market and economic
// data providers behind the fallback chain. Each adapter exposes only two
// things to the orchestrator: whether it is currently usable, and a market
// size fetch for an identifier and region.
package sources

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNoData is returned when a provider answered but had nothing for the
// identifier. It is not a transport failure; the chain simply moves on.
var ErrNoData = errors.New("sources: no data for identifier")

// MarketSize is one provider's answer for an identifier and region.
type MarketSize struct {
	Value    float64                `json:"value"`
	Currency string                 `json:"currency,omitempty"`
	Year     string                 `json:"year,omitempty"`
	Series   string                 `json:"series,omitempty"`
	Raw      map[string]interface{} `json:"raw,omitempty"`
}

// Source is the capability interface every data provider adapter implements.
type Source interface {
	// Name returns the provider's stable identity, used for result tagging
	// and cache key derivation.
	Name() string

	// Available reports whether this provider is currently usable. For most
	// providers this means an access credential is configured, not a live
	// health probe.
	Available() bool

	// FetchMarketSize returns the provider's market size value for the
	// identifier and region, ErrNoData when the provider has nothing, or a
	// transport error.
	FetchMarketSize(ctx context.Context, id, region string) (*MarketSize, error)
}

// Config holds the common construction parameters for provider adapters.
type Config struct {
	BaseURL        string
	APIKey         string
	RateLimitRPM   int
	RateLimitBurst int
}

// decodeMarketSize recovers a MarketSize from a cached value. The in-process
// backend returns the original *MarketSize; the remote backends return the
// JSON-decoded generic form, which is re-mapped here. Anything else is
// treated as a cache miss.
func decodeMarketSize(v interface{}) (*MarketSize, bool) {
	switch t := v.(type) {
	case *MarketSize:
		return t, true
	case map[string]interface{}:
		data, err := json.Marshal(t)
		if err != nil {
			return nil, false
		}
		var ms MarketSize
		if err := json.Unmarshal(data, &ms); err != nil {
			return nil, false
		}
		return &ms, true
	default:
		return nil, false
	}
}
