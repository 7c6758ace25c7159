// Package orchestrator resolves market-size lookups by walking an ordered
// chain of data providers chosen from the identifier's shape, falling back
// to a static estimate when every provider comes up empty.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/quantrail/marketsizer/internal/notification"
	"github.com/quantrail/marketsizer/internal/platform/observability"
	"github.com/quantrail/marketsizer/internal/sources"
	"go.opentelemetry.io/otel/attribute"
)

// ErrInvalidIdentifier is returned for malformed lookup input. It is the
// orchestrator's only error path: provider failures and empty chains degrade
// to the mock fallback instead.
var ErrInvalidIdentifier = errors.New("orchestrator: identifier must not be empty")

// Result is the orchestrator's answer to a lookup.
type Result struct {
	// Value is the market size figure.
	Value float64

	// Source names the provider that produced the value, or "mock" when the
	// chain was exhausted.
	Source string

	// Kind is the classification the identifier resolved to.
	Kind Kind

	// Details carries the provider's full answer.
	Details *sources.MarketSize
}

// Estimated reports whether the value came from the static fallback rather
// than a real provider.
func (r *Result) Estimated() bool {
	return r.Source == MockSourceName
}

// Config holds orchestrator configuration.
type Config struct {
	Classifier ClassifierConfig `mapstructure:"classifier"`

	// Provider chains per identifier kind, in priority order. Empty slices
	// keep the defaults.
	TickerOrder   []string `mapstructure:"ticker_order"`
	IndustryOrder []string `mapstructure:"industry_order"`
	GenericOrder  []string `mapstructure:"generic_order"`
}

func defaultOrders() map[Kind][]string {
	return map[Kind][]string{
		KindTicker:   {"alpha_vantage", "fred", "world_bank"},
		KindIndustry: {"census", "bls", "fred"},
		KindGeneric:  {"fred", "bls", "world_bank"},
	}
}

// Orchestrator walks provider chains for lookups.
type Orchestrator struct {
	classifier *Classifier
	registry   *sources.Registry
	orders     map[Kind][]string
	alerts     notification.Publisher
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     observability.Tracer

	now func() time.Time
}

// New creates an orchestrator over the registry's built sources.
func New(cfg Config, registry *sources.Registry, alerts notification.Publisher,
	logger *observability.Logger, metrics *observability.Metrics, tracer observability.Tracer) (*Orchestrator, error) {

	classifier, err := NewClassifier(cfg.Classifier)
	if err != nil {
		return nil, err
	}

	orders := defaultOrders()
	if len(cfg.TickerOrder) > 0 {
		orders[KindTicker] = cfg.TickerOrder
	}
	if len(cfg.IndustryOrder) > 0 {
		orders[KindIndustry] = cfg.IndustryOrder
	}
	if len(cfg.GenericOrder) > 0 {
		orders[KindGeneric] = cfg.GenericOrder
	}

	if alerts == nil {
		alerts = notification.NewNoOpPublisher(logger)
	}
	if logger == nil {
		logger = observability.NewLogger("info", "json")
	}
	if tracer == nil {
		tracer = observability.NewNoopTracer()
	}

	return &Orchestrator{
		classifier: classifier,
		registry:   registry,
		orders:     orders,
		alerts:     alerts,
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
		now:        time.Now,
	}, nil
}

// Lookup resolves a market size for the identifier. Providers are tried in
// the chain order for the identifier's kind; unavailable providers are
// skipped, failing providers are logged and skipped, and the first answer
// short-circuits the chain. An exhausted chain yields the static estimate,
// never an error: only malformed input fails.
func (o *Orchestrator) Lookup(ctx context.Context, id, region string) (*Result, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidIdentifier
	}

	start := o.now()
	kind := o.classifier.Classify(id)

	ctx, span := o.tracer.StartSpan(ctx, "Orchestrator.Lookup",
		observability.WithAttributes(
			attribute.String("identifier", id),
			attribute.String("region", region),
			attribute.String("kind", string(kind)),
		),
	)
	defer span.End()

	order := o.orders[kind]
	attempted := make([]string, 0, len(order))

	for _, src := range o.registry.Resolve(order) {
		name := src.Name()

		if !src.Available() {
			o.metrics.RecordSourceSkipped(ctx, name)
			o.logger.LogDebug(ctx, "skipping unavailable source", "source", name, "identifier", id)
			continue
		}

		attempted = append(attempted, name)

		ms, err := src.FetchMarketSize(ctx, id, region)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("resolved_source", name))
			o.metrics.RecordLookup(ctx, name, o.now().Sub(start))
			return &Result{Value: ms.Value, Source: name, Kind: kind, Details: ms}, nil

		case errors.Is(err, sources.ErrNoData):
			o.logger.LogDebug(ctx, "source has no data", "source", name, "identifier", id)

		default:
			// Provider trouble never surfaces to the caller; the chain
			// moves on.
			span.AddEvent("source_failed", attribute.String("source", name))
			o.metrics.RecordError(ctx, name)
			o.logger.LogWarn(ctx, "source lookup failed",
				"source", name, "identifier", id, "error", err)
		}
	}

	// Chain exhausted: serve the deterministic estimate and raise an alert.
	span.SetAttributes(attribute.String("resolved_source", MockSourceName))
	o.metrics.RecordMockFallback(ctx)
	o.metrics.RecordLookup(ctx, MockSourceName, o.now().Sub(start))
	o.logger.LogWarn(ctx, "all sources exhausted, serving estimate",
		"identifier", id, "kind", string(kind), "attempted", strings.Join(attempted, ","))

	o.notifyExhaustion(ctx, id, region, kind, attempted)

	ms := mockMarketSize(id)
	return &Result{Value: ms.Value, Source: MockSourceName, Kind: kind, Details: ms}, nil
}

// notifyExhaustion raises the exhaustion alert best-effort: a failing alert
// sink must not fail the lookup.
func (o *Orchestrator) notifyExhaustion(ctx context.Context, id, region string, kind Kind, attempted []string) {
	alert := notification.ExhaustionAlert{
		Identifier: id,
		Region:     region,
		Kind:       string(kind),
		Attempted:  attempted,
		Timestamp:  o.now(),
	}
	if err := o.alerts.PublishExhaustion(ctx, alert); err != nil {
		o.logger.LogWarn(ctx, "failed to publish exhaustion alert", "identifier", id, "error", err)
	}
}

// Orders exposes the effective chain order per kind, for diagnostics.
func (o *Orchestrator) Orders() map[Kind][]string {
	out := make(map[Kind][]string, len(o.orders))
	for k, v := range o.orders {
		out[k] = append([]string(nil), v...)
	}
	return out
}
