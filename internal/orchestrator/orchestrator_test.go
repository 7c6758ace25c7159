package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/quantrail/marketsizer/internal/notification"
	"github.com/quantrail/marketsizer/internal/sources"
)

// fakeSource is a scriptable provider for chain tests.
type fakeSource struct {
	name      string
	available bool
	ms        *sources.MarketSize
	err       error
	calls     int
}

func (f *fakeSource) Name() string    { return f.name }
func (f *fakeSource) Available() bool { return f.available }
func (f *fakeSource) FetchMarketSize(context.Context, string, string) (*sources.MarketSize, error) {
	f.calls++
	return f.ms, f.err
}

// recordingPublisher captures exhaustion alerts.
type recordingPublisher struct {
	alerts []notification.ExhaustionAlert
	err    error
}

func (p *recordingPublisher) PublishExhaustion(_ context.Context, alert notification.ExhaustionAlert) error {
	p.alerts = append(p.alerts, alert)
	return p.err
}

func newTestOrchestrator(t *testing.T, chain []*fakeSource, alerts notification.Publisher) *Orchestrator {
	t.Helper()

	registry := sources.NewRegistry()
	order := make([]string, 0, len(chain))
	for _, src := range chain {
		src := src
		registry.RegisterFactory(src.name, func(sources.Config, sources.Deps) sources.Source {
			return src
		})
		if _, err := registry.Build(src.name, sources.Config{}, sources.Deps{}); err != nil {
			t.Fatalf("Build(%s) failed: %v", src.name, err)
		}
		order = append(order, src.name)
	}

	orch, err := New(Config{GenericOrder: order}, registry, alerts, nil, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return orch
}

func TestOrchestrator_EmptyIdentifier(t *testing.T) {
	orch := newTestOrchestrator(t, nil, nil)

	for _, id := range []string{"", "   ", "\t"} {
		if _, err := orch.Lookup(context.Background(), id, ""); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("Lookup(%q): expected ErrInvalidIdentifier, got %v", id, err)
		}
	}
}

func TestOrchestrator_FirstAnswerShortCircuits(t *testing.T) {
	first := &fakeSource{name: "first", available: true, ms: &sources.MarketSize{Value: 100}}
	second := &fakeSource{name: "second", available: true, ms: &sources.MarketSize{Value: 200}}
	orch := newTestOrchestrator(t, []*fakeSource{first, second}, nil)

	result, err := orch.Lookup(context.Background(), "some_series", "")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	if result.Value != 100 || result.Source != "first" {
		t.Errorf("expected first source's answer, got %v from %q", result.Value, result.Source)
	}
	if second.calls != 0 {
		t.Errorf("second source should not be reached, got %d calls", second.calls)
	}
	if result.Estimated() {
		t.Error("a real provider answer must not be flagged estimated")
	}
}

func TestOrchestrator_SkipsUnavailable(t *testing.T) {
	down := &fakeSource{name: "down", available: false, ms: &sources.MarketSize{Value: 1}}
	up := &fakeSource{name: "up", available: true, ms: &sources.MarketSize{Value: 2}}
	orch := newTestOrchestrator(t, []*fakeSource{down, up}, nil)

	result, err := orch.Lookup(context.Background(), "some_series", "")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	if down.calls != 0 {
		t.Errorf("unavailable source must not be called, got %d calls", down.calls)
	}
	if result.Source != "up" {
		t.Errorf("expected answer from up, got %q", result.Source)
	}
}

func TestOrchestrator_ContinuesPastFailures(t *testing.T) {
	broken := &fakeSource{name: "broken", available: true, err: errors.New("connection refused")}
	empty := &fakeSource{name: "empty", available: true, err: sources.ErrNoData}
	working := &fakeSource{name: "working", available: true, ms: &sources.MarketSize{Value: 42}}
	orch := newTestOrchestrator(t, []*fakeSource{broken, empty, working}, nil)

	result, err := orch.Lookup(context.Background(), "some_series", "")
	if err != nil {
		t.Fatalf("provider failures must not surface: %v", err)
	}

	if broken.calls != 1 || empty.calls != 1 {
		t.Errorf("both failing sources should be tried once, got %d and %d", broken.calls, empty.calls)
	}
	if result.Value != 42 || result.Source != "working" {
		t.Errorf("expected 42 from working, got %v from %q", result.Value, result.Source)
	}
}

func TestOrchestrator_ExhaustedChainServesMock(t *testing.T) {
	broken := &fakeSource{name: "broken", available: true, err: errors.New("boom")}
	empty := &fakeSource{name: "empty", available: true, err: sources.ErrNoData}
	publisher := &recordingPublisher{}
	orch := newTestOrchestrator(t, []*fakeSource{broken, empty}, publisher)

	result, err := orch.Lookup(context.Background(), "some_series", "emea")
	if err != nil {
		t.Fatalf("exhausted chain must not error: %v", err)
	}

	if result.Source != MockSourceName {
		t.Errorf("expected mock source, got %q", result.Source)
	}
	if !result.Estimated() {
		t.Error("mock answer must be flagged estimated")
	}
	if result.Value != mockDefaultValue {
		t.Errorf("expected default mock value, got %v", result.Value)
	}

	if len(publisher.alerts) != 1 {
		t.Fatalf("expected 1 exhaustion alert, got %d", len(publisher.alerts))
	}
	alert := publisher.alerts[0]
	if alert.Identifier != "some_series" || alert.Region != "emea" {
		t.Errorf("alert misses lookup context: %+v", alert)
	}
	if len(alert.Attempted) != 2 {
		t.Errorf("expected 2 attempted sources in alert, got %v", alert.Attempted)
	}
}

func TestOrchestrator_EmptyChainServesMock(t *testing.T) {
	publisher := &recordingPublisher{}
	orch := newTestOrchestrator(t, nil, publisher)

	result, err := orch.Lookup(context.Background(), "anything", "")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if result.Source != MockSourceName {
		t.Errorf("expected mock source, got %q", result.Source)
	}
}

func TestOrchestrator_AlertFailureDoesNotFailLookup(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("sns down")}
	orch := newTestOrchestrator(t, nil, publisher)

	if _, err := orch.Lookup(context.Background(), "anything", ""); err != nil {
		t.Errorf("failing alert sink must not fail the lookup: %v", err)
	}
}

func TestOrchestrator_MockDeterminism(t *testing.T) {
	orch := newTestOrchestrator(t, nil, nil)

	a, err := orch.Lookup(context.Background(), "unknown_thing", "")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	b, err := orch.Lookup(context.Background(), "unknown_thing", "")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	if a.Value != b.Value {
		t.Errorf("mock values must be deterministic: %v vs %v", a.Value, b.Value)
	}
}

func TestOrchestrator_MockReferenceTable(t *testing.T) {
	orch := newTestOrchestrator(t, nil, nil)

	// Well-known series come from the reference table, case-insensitive
	result, err := orch.Lookup(context.Background(), "UNRATE", "")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if result.Value != 4.1 {
		t.Errorf("expected reference value for UNRATE, got %v", result.Value)
	}
}

func TestOrchestrator_ChainOrderOverride(t *testing.T) {
	registry := sources.NewRegistry()
	src := &fakeSource{name: "custom", available: true, ms: &sources.MarketSize{Value: 7}}
	registry.RegisterFactory("custom", func(sources.Config, sources.Deps) sources.Source { return src })
	if _, err := registry.Build("custom", sources.Config{}, sources.Deps{}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	orch, err := New(Config{TickerOrder: []string{"custom"}}, registry, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result, err := orch.Lookup(context.Background(), "AAPL", "")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if result.Kind != KindTicker {
		t.Errorf("expected ticker classification, got %s", result.Kind)
	}
	if result.Source != "custom" {
		t.Errorf("expected overridden ticker chain, got %q", result.Source)
	}
}

func TestMockMarketSize_KnownAndUnknown(t *testing.T) {
	if ms := mockMarketSize("aapl"); ms.Value != 3.4e12 {
		t.Errorf("expected table value for aapl, got %v", ms.Value)
	}
	if ms := mockMarketSize("AAPL"); ms.Value != 3.4e12 {
		t.Errorf("table lookup should be case-insensitive, got %v", ms.Value)
	}
	if ms := mockMarketSize("no-such-id"); ms.Value != mockDefaultValue {
		t.Errorf("expected default for unknown id, got %v", ms.Value)
	}

	// Returned entries are copies; mutating one must not poison the table
	ms := mockMarketSize("gdp")
	ms.Value = 0
	if again := mockMarketSize("gdp"); again.Value == 0 {
		t.Error("mock table entry was mutated through a returned pointer")
	}
}
