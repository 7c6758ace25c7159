package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quantrail/marketsizer/internal/platform/cache"
	"github.com/quantrail/marketsizer/internal/platform/observability"
)

func testDeps(t *testing.T) Deps {
	t.Helper()

	store, err := cache.NewMemoryCache(cache.MemoryCacheConfig{
		Logger: observability.NewLogger("error", "text"),
	})
	if err != nil {
		t.Fatalf("NewMemoryCache failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return Deps{
		Cache:    store,
		CacheTTL: time.Minute,
		Logger:   observability.NewLogger("error", "text"),
	}
}

func jsonServer(t *testing.T, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAlphaVantage_FetchMarketSize(t *testing.T) {
	srv := jsonServer(t, `{
		"Symbol": "AAPL",
		"Currency": "USD",
		"MarketCapitalization": "3400000000000"
	}`)

	av := NewAlphaVantage(Config{BaseURL: srv.URL, APIKey: "test"}, testDeps(t))

	ms, err := av.FetchMarketSize(context.Background(), "AAPL", "")
	if err != nil {
		t.Fatalf("FetchMarketSize failed: %v", err)
	}
	if ms.Value != 3.4e12 {
		t.Errorf("expected 3.4e12, got %v", ms.Value)
	}
	if ms.Currency != "USD" {
		t.Errorf("expected USD, got %q", ms.Currency)
	}
}

func TestAlphaVantage_UnknownSymbol(t *testing.T) {
	// Alpha Vantage answers unknown symbols with an empty object
	srv := jsonServer(t, `{}`)

	av := NewAlphaVantage(Config{BaseURL: srv.URL, APIKey: "test"}, testDeps(t))

	if _, err := av.FetchMarketSize(context.Background(), "ZZZZZ", ""); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestAlphaVantage_Availability(t *testing.T) {
	withKey := NewAlphaVantage(Config{APIKey: "k"}, testDeps(t))
	if !withKey.Available() {
		t.Error("adapter with key should be available")
	}

	withoutKey := NewAlphaVantage(Config{}, testDeps(t))
	if withoutKey.Available() {
		t.Error("adapter without key should be unavailable")
	}
}

func TestFRED_FetchMarketSize(t *testing.T) {
	srv := jsonServer(t, `{
		"observations": [
			{"date": "2023-10-01", "value": "27360.934"}
		]
	}`)

	f := NewFRED(Config{BaseURL: srv.URL, APIKey: "test"}, testDeps(t))

	ms, err := f.FetchMarketSize(context.Background(), "GDP", "")
	if err != nil {
		t.Fatalf("FetchMarketSize failed: %v", err)
	}
	if ms.Value != 27360.934 {
		t.Errorf("expected 27360.934, got %v", ms.Value)
	}
	if ms.Year != "2023" {
		t.Errorf("expected year 2023, got %q", ms.Year)
	}
	if ms.Series != "GDP" {
		t.Errorf("expected series GDP, got %q", ms.Series)
	}
}

func TestFRED_MissingObservation(t *testing.T) {
	// FRED reports missing data points as "."
	srv := jsonServer(t, `{"observations": [{"date": "2023-10-01", "value": "."}]}`)

	f := NewFRED(Config{BaseURL: srv.URL, APIKey: "test"}, testDeps(t))

	if _, err := f.FetchMarketSize(context.Background(), "DISCONTINUED", ""); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestFRED_CachesAnswer(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"observations": [{"date": "2023-10-01", "value": "100"}]}`))
	}))
	t.Cleanup(srv.Close)

	f := NewFRED(Config{BaseURL: srv.URL, APIKey: "test"}, testDeps(t))

	for i := 0; i < 3; i++ {
		if _, err := f.FetchMarketSize(context.Background(), "GDP", ""); err != nil {
			t.Fatalf("FetchMarketSize #%d failed: %v", i, err)
		}
	}

	if calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls)
	}
}

func TestBLS_FetchMarketSize(t *testing.T) {
	srv := jsonServer(t, `{
		"status": "REQUEST_SUCCEEDED",
		"Results": {
			"series": [
				{"seriesID": "CES0000000001", "data": [
					{"year": "2024", "value": "158,942"}
				]}
			]
		}
	}`)

	b := NewBLS(Config{BaseURL: srv.URL}, testDeps(t))

	ms, err := b.FetchMarketSize(context.Background(), "CES0000000001", "")
	if err != nil {
		t.Fatalf("FetchMarketSize failed: %v", err)
	}
	if ms.Value != 158942 {
		t.Errorf("expected 158942 (comma stripped), got %v", ms.Value)
	}
	if ms.Year != "2024" {
		t.Errorf("expected year 2024, got %q", ms.Year)
	}
}

func TestBLS_FailedRequest(t *testing.T) {
	srv := jsonServer(t, `{"status": "REQUEST_NOT_PROCESSED", "Results": {}}`)

	b := NewBLS(Config{BaseURL: srv.URL}, testDeps(t))

	if _, err := b.FetchMarketSize(context.Background(), "BOGUS", ""); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestCensus_FetchMarketSize(t *testing.T) {
	srv := jsonServer(t, `[
		["PAYANN", "NAICS2017_LABEL", "us"],
		["350000000", "Software Publishers", "1"]
	]`)

	c := NewCensus(Config{BaseURL: srv.URL}, testDeps(t))

	ms, err := c.FetchMarketSize(context.Background(), "5112", "us")
	if err != nil {
		t.Fatalf("FetchMarketSize failed: %v", err)
	}

	// PAYANN is in thousands of dollars
	if ms.Value != 3.5e11 {
		t.Errorf("expected 3.5e11, got %v", ms.Value)
	}
	if ms.Raw["naics_label"] != "Software Publishers" {
		t.Errorf("expected NAICS label in raw details, got %v", ms.Raw)
	}
}

func TestCensus_HeaderOnlyResponse(t *testing.T) {
	srv := jsonServer(t, `[["PAYANN", "NAICS2017_LABEL", "us"]]`)

	c := NewCensus(Config{BaseURL: srv.URL}, testDeps(t))

	if _, err := c.FetchMarketSize(context.Background(), "999999", ""); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestCensus_NonUSRegion(t *testing.T) {
	c := NewCensus(Config{}, testDeps(t))

	if _, err := c.FetchMarketSize(context.Background(), "5112", "DE"); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData for non-US region, got %v", err)
	}
}

func TestWorldBank_FetchMarketSize(t *testing.T) {
	srv := jsonServer(t, `[
		{"page": 1, "pages": 1, "per_page": 1, "total": 1},
		[{"value": 27360935000000, "date": "2023", "indicator": {"id": "NY.GDP.MKTP.CD"}}]
	]`)

	w := NewWorldBank(Config{BaseURL: srv.URL}, testDeps(t))

	ms, err := w.FetchMarketSize(context.Background(), "NY.GDP.MKTP.CD", "US")
	if err != nil {
		t.Fatalf("FetchMarketSize failed: %v", err)
	}
	if ms.Value != 27360935000000 {
		t.Errorf("expected 2.7360935e13, got %v", ms.Value)
	}
	if ms.Year != "2023" {
		t.Errorf("expected year 2023, got %q", ms.Year)
	}
}

func TestWorldBank_NullValue(t *testing.T) {
	srv := jsonServer(t, `[
		{"page": 1},
		[{"value": null, "date": "2023", "indicator": {"id": "NY.GDP.MKTP.CD"}}]
	]`)

	w := NewWorldBank(Config{BaseURL: srv.URL}, testDeps(t))

	if _, err := w.FetchMarketSize(context.Background(), "NY.GDP.MKTP.CD", "US"); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestWorldBank_AlwaysAvailable(t *testing.T) {
	w := NewWorldBank(Config{}, testDeps(t))
	if !w.Available() {
		t.Error("World Bank adapter should always be available")
	}
}

func TestAdapter_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	f := NewFRED(Config{BaseURL: srv.URL, APIKey: "test"}, testDeps(t))

	_, err := f.FetchMarketSize(context.Background(), "GDP", "")
	if err == nil {
		t.Fatal("expected error for HTTP 403")
	}
	if errors.Is(err, ErrNoData) {
		t.Error("transport failure must not be reported as ErrNoData")
	}

	health := f.Health()
	if health.ConsecutiveFailures == 0 {
		t.Error("expected failure recorded in health")
	}
	if health.LastError == "" {
		t.Error("expected last error recorded in health")
	}
}

func TestAdapter_HealthRecordsSuccess(t *testing.T) {
	srv := jsonServer(t, `{"observations": [{"date": "2023-10-01", "value": "1"}]}`)

	f := NewFRED(Config{BaseURL: srv.URL, APIKey: "test"}, testDeps(t))

	if _, err := f.FetchMarketSize(context.Background(), "GDP", ""); err != nil {
		t.Fatalf("FetchMarketSize failed: %v", err)
	}

	health := f.Health()
	if health.Source != "fred" {
		t.Errorf("expected source fred, got %q", health.Source)
	}
	if health.LastSuccess.IsZero() {
		t.Error("expected last success recorded")
	}
	if health.ConsecutiveFailures != 0 {
		t.Errorf("expected 0 consecutive failures, got %d", health.ConsecutiveFailures)
	}
}
