package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metrics
type Metrics struct {
	meter metric.Meter

	// Lookup metrics
	LookupsTotal   metric.Int64Counter
	LookupDuration metric.Float64Histogram

	// Source (external data provider) metrics
	SourceCalls    metric.Int64Counter
	SourceDuration metric.Float64Histogram
	SourceSkipped  metric.Int64Counter

	// Fallback metrics
	MockFallbacks metric.Int64Counter

	// Cache metrics
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// Distributed invalidation metrics
	InvalidationsPublished metric.Int64Counter
	InvalidationsReceived  metric.Int64Counter

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Error metrics
	Errors metric.Int64Counter

	// Prometheus exporter for HTTP handler
	exporter *prometheus.Exporter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics creates all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	if m.LookupsTotal, err = m.meter.Int64Counter(
		"marketsize_lookups_total",
		metric.WithDescription("Total market size lookups handled"),
	); err != nil {
		return err
	}

	if m.LookupDuration, err = m.meter.Float64Histogram(
		"marketsize_lookup_duration_seconds",
		metric.WithDescription("End-to-end lookup duration"),
	); err != nil {
		return err
	}

	if m.SourceCalls, err = m.meter.Int64Counter(
		"source_calls_total",
		metric.WithDescription("External data source fetch attempts"),
	); err != nil {
		return err
	}

	if m.SourceDuration, err = m.meter.Float64Histogram(
		"source_call_duration_seconds",
		metric.WithDescription("External data source call latency"),
	); err != nil {
		return err
	}

	if m.SourceSkipped, err = m.meter.Int64Counter(
		"source_skipped_total",
		metric.WithDescription("Sources skipped because no credential is configured"),
	); err != nil {
		return err
	}

	if m.MockFallbacks, err = m.meter.Int64Counter(
		"mock_fallbacks_total",
		metric.WithDescription("Lookups answered from the static fallback table"),
	); err != nil {
		return err
	}

	if m.CacheHits, err = m.meter.Int64Counter(
		"cache_hits_total",
		metric.WithDescription("Cache hits by backend"),
	); err != nil {
		return err
	}

	if m.CacheMisses, err = m.meter.Int64Counter(
		"cache_misses_total",
		metric.WithDescription("Cache misses by backend"),
	); err != nil {
		return err
	}

	if m.InvalidationsPublished, err = m.meter.Int64Counter(
		"cache_invalidations_published_total",
		metric.WithDescription("Distributed invalidation messages published"),
	); err != nil {
		return err
	}

	if m.InvalidationsReceived, err = m.meter.Int64Counter(
		"cache_invalidations_received_total",
		metric.WithDescription("Distributed invalidation messages received"),
	); err != nil {
		return err
	}

	if m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"circuit_breaker_state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	); err != nil {
		return err
	}

	if m.Errors, err = m.meter.Int64Counter(
		"errors_total",
		metric.WithDescription("Errors by component"),
	); err != nil {
		return err
	}

	return nil
}

// Handler returns the Prometheus HTTP handler for /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// RecordLookup records a completed lookup and its duration
func (m *Metrics) RecordLookup(ctx context.Context, source string, duration time.Duration) {
	if m == nil || m.LookupsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("source", source))
	m.LookupsTotal.Add(ctx, 1, attrs)
	m.LookupDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordSourceCall records one fetch attempt against an external source
func (m *Metrics) RecordSourceCall(ctx context.Context, source string, duration time.Duration, err error) {
	if m == nil || m.SourceCalls == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("error", err != nil),
	)
	m.SourceCalls.Add(ctx, 1, attrs)
	m.SourceDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordSourceSkipped records a source skipped for missing credentials
func (m *Metrics) RecordSourceSkipped(ctx context.Context, source string) {
	if m == nil || m.SourceSkipped == nil {
		return
	}
	m.SourceSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordMockFallback records a lookup served by the static fallback
func (m *Metrics) RecordMockFallback(ctx context.Context) {
	if m == nil || m.MockFallbacks == nil {
		return
	}
	m.MockFallbacks.Add(ctx, 1)
}

// RecordCacheHit records a cache hit for the given backend
func (m *Metrics) RecordCacheHit(ctx context.Context, backend string) {
	if m == nil || m.CacheHits == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordCacheMiss records a cache miss for the given backend
func (m *Metrics) RecordCacheMiss(ctx context.Context, backend string) {
	if m == nil || m.CacheMisses == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordInvalidationPublished records a published invalidation broadcast
func (m *Metrics) RecordInvalidationPublished(ctx context.Context) {
	if m == nil || m.InvalidationsPublished == nil {
		return
	}
	m.InvalidationsPublished.Add(ctx, 1)
}

// RecordInvalidationReceived records a received invalidation broadcast
func (m *Metrics) RecordInvalidationReceived(ctx context.Context) {
	if m == nil || m.InvalidationsReceived == nil {
		return
	}
	m.InvalidationsReceived.Add(ctx, 1)
}

// SetCircuitBreakerState updates the circuit breaker state gauge
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, name string, state int64) {
	if m == nil || m.CircuitBreakerState == nil {
		return
	}
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("breaker", name)))
}

// RecordError records an error for the given component
func (m *Metrics) RecordError(ctx context.Context, component string) {
	if m == nil || m.Errors == nil {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
}
