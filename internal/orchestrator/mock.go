package orchestrator

import (
	"strings"

	"github.com/quantrail/marketsizer/internal/sources"
)

// MockSourceName tags results that came from the static fallback instead of
// a real provider.
const MockSourceName = "mock"

// mockDefaultValue is served for identifiers absent from the reference
// table. Deliberately round so downstream consumers can recognize it.
const mockDefaultValue = 1e9

// mockReference holds rough public figures for a handful of well-known
// series, so the fallback stays plausible for common lookups.
var mockReference = map[string]sources.MarketSize{
	"gdp":      {Value: 2.7e13, Currency: "USD", Year: "2023", Series: "US GDP"},
	"gdpc1":    {Value: 2.2e13, Currency: "USD", Year: "2023", Series: "Real US GDP"},
	"cpiaucsl": {Value: 310.3, Year: "2024", Series: "CPI All Urban Consumers"},
	"unrate":   {Value: 4.1, Year: "2024", Series: "US Unemployment Rate"},
	"aapl":     {Value: 3.4e12, Currency: "USD", Year: "2024", Series: "AAPL"},
	"msft":     {Value: 3.1e12, Currency: "USD", Year: "2024", Series: "MSFT"},
	"5112":     {Value: 3.5e11, Currency: "USD", Year: "2021", Series: "NAICS 5112 Software Publishers"},
}

// mockMarketSize returns a deterministic estimate for the identifier: the
// reference entry when one exists, the fixed default otherwise. It never
// fails; this is the chain's floor.
func mockMarketSize(id string) *sources.MarketSize {
	if ms, ok := mockReference[strings.ToLower(strings.TrimSpace(id))]; ok {
		out := ms
		return &out
	}
	return &sources.MarketSize{
		Value:    mockDefaultValue,
		Currency: "USD",
		Series:   id,
	}
}
