package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantrail/marketsizer/internal/notification"
	"github.com/quantrail/marketsizer/internal/orchestrator"
	"github.com/quantrail/marketsizer/internal/platform/aws"
	"github.com/quantrail/marketsizer/internal/platform/cache"
	"github.com/quantrail/marketsizer/internal/platform/config"
	"github.com/quantrail/marketsizer/internal/platform/observability"
	"github.com/quantrail/marketsizer/internal/sources"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	log.Println("Loading configuration...")
	cfg := config.MustLoad(os.Getenv("MARKETSIZER_CONFIG"))

	// Setup observability (foundational - must be first)
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("marketsizer-aggregator", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracerProvider, err := observability.NewTracerProvider(ctx, "marketsizer-aggregator",
		cfg.Observability.Tracing.Endpoint, cfg.Observability.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tracerProvider.Shutdown(ctx)

	logger.Info("observability setup complete")

	// Cache backend
	logger.Info("setting up cache", "type", cfg.Cache.Type)
	store, err := cache.New(cfg.Cache, logger, metrics)
	if err != nil {
		logger.LogError(ctx, "failed to create cache", err)
		log.Fatalf("Failed to create cache: %v", err)
	}
	defer store.Close()

	// Data sources
	logger.Info("creating data sources...")
	registry := sources.NewRegistry()
	deps := sources.Deps{
		Cache:    store,
		CacheTTL: cfg.Sources.CacheTTL,
		Logger:   logger,
		Metrics:  metrics,
	}
	if err := registry.BuildAll(cfg.Sources.SourceConfigs(), deps); err != nil {
		logger.LogError(ctx, "failed to build sources", err)
		log.Fatalf("Failed to build sources: %v", err)
	}

	// Alert publisher
	var alerts notification.Publisher = notification.NewNoOpPublisher(logger)
	if cfg.Alerting.Enabled {
		logger.Info("setting up SNS alerting...")
		awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.AWS.Region})
		if err != nil {
			logger.LogError(ctx, "failed to load AWS config", err)
			log.Fatalf("Failed to load AWS config: %v", err)
		}

		snsClient := aws.NewSNSClient(aws.SNSClientConfig{
			AWSConfig: awsCfg,
			Logger:    logger,
			Metrics:   metrics,
		})

		alerts, err = notification.NewSNSPublisher(notification.SNSPublisherConfig{
			SNSClient: snsClient,
			TopicARN:  cfg.Alerting.SNSTopicARN,
			Logger:    logger,
			Tracer:    observability.NewTracer("marketsizer-aggregator"),
		})
		if err != nil {
			logger.LogError(ctx, "failed to create alert publisher", err)
			log.Fatalf("Failed to create alert publisher: %v", err)
		}
	}

	// Orchestrator
	logger.Info("creating orchestrator...")
	orch, err := orchestrator.New(cfg.Orchestrator, registry, alerts, logger, metrics,
		observability.NewTracer("marketsizer-aggregator"))
	if err != nil {
		logger.LogError(ctx, "failed to create orchestrator", err)
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Warm the cache with configured identifiers
	if len(cfg.Sources.WarmupIDs) > 0 {
		warmCache(ctx, cfg.Sources.WarmupIDs, orch, logger)
	}

	// Start HTTP server
	logger.Info("starting HTTP server...")
	server := newHTTPServer(cfg.HTTP.Port, orch, registry, store, metrics, logger)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.LogError(context.Background(), "HTTP server error", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received, gracefully stopping...")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "HTTP server shutdown error", err)
	}

	logger.Info("application stopped")
}

// warmCache pre-fetches configured identifiers through the lookup pipeline
// so the first real requests hit a warm cache.
func warmCache(ctx context.Context, ids []string, orch *orchestrator.Orchestrator, logger *observability.Logger) {
	warmer := cache.NewWarmer(logger, cache.DefaultWarmupConfig())
	for _, id := range ids {
		warmer.Register(&lookupWarmupSource{id: id, orch: orch})
	}

	results := warmer.Warmup(ctx)
	if results.HasErrors() {
		logger.Warn("cache warmup finished with errors", "errors", results.Errors)
	}
}

// lookupWarmupSource warms the cache by running one identifier through the
// orchestrator.
type lookupWarmupSource struct {
	id   string
	orch *orchestrator.Orchestrator
}

func (s *lookupWarmupSource) Name() string { return s.id }

func (s *lookupWarmupSource) Warmup(ctx context.Context) error {
	_, err := s.orch.Lookup(ctx, s.id, "")
	return err
}

// newHTTPServer builds the service's HTTP surface: liveness, readiness,
// metrics, and the lookup endpoint.
func newHTTPServer(port int, orch *orchestrator.Orchestrator, registry *sources.Registry,
	store cache.Cache, metrics *observability.Metrics, logger *observability.Logger) *http.Server {

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeReadiness(w, r, registry, store)
	})

	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/v1/market-size", func(w http.ResponseWriter, r *http.Request) {
		handleMarketSize(w, r, orch, logger)
	})

	mux.HandleFunc("/v1/market-size/batch", func(w http.ResponseWriter, r *http.Request) {
		handleMarketSizeBatch(w, r, orch, logger)
	})

	addr := fmt.Sprintf(":%d", port)
	logger.Info("HTTP server listening", "address", addr)

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}

// writeReadiness reports cache and source health. Readiness degrades but
// stays 200 as long as lookups can be served at all, which they always can
// thanks to the mock floor.
func writeReadiness(w http.ResponseWriter, r *http.Request, registry *sources.Registry, store cache.Cache) {
	type sourceStatus struct {
		Source              string `json:"source"`
		CircuitState        string `json:"circuit_state,omitempty"`
		ConsecutiveFailures int    `json:"consecutive_failures"`
		LastError           string `json:"last_error,omitempty"`
	}

	resp := struct {
		Status  string                 `json:"status"`
		Cache   map[string]interface{} `json:"cache,omitempty"`
		Sources []sourceStatus         `json:"sources"`
	}{Status: "ready"}

	if dc, ok := store.(cache.DistributedCache); ok {
		health := dc.HealthCheck(r.Context())
		resp.Cache = map[string]interface{}{
			"status":  string(health.Status),
			"details": health.Details,
		}
		if health.Status == cache.StatusUnhealthy {
			resp.Status = "degraded"
		}
	}

	for _, h := range registry.Health() {
		resp.Sources = append(resp.Sources, sourceStatus{
			Source:              h.Source,
			CircuitState:        h.CircuitState,
			ConsecutiveFailures: h.ConsecutiveFailures,
			LastError:           h.LastError,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// marketSizeResponse is the wire form of a single lookup answer.
type marketSizeResponse struct {
	Identifier string              `json:"identifier"`
	Region     string              `json:"region,omitempty"`
	Kind       string              `json:"kind"`
	Value      float64             `json:"value"`
	Source     string              `json:"source"`
	Estimated  bool                `json:"estimated"`
	Details    *sources.MarketSize `json:"details,omitempty"`
	Error      string              `json:"error,omitempty"`
}

func toMarketSizeResponse(id, region string, result *orchestrator.Result) marketSizeResponse {
	return marketSizeResponse{
		Identifier: id,
		Region:     region,
		Kind:       string(result.Kind),
		Value:      result.Value,
		Source:     result.Source,
		Estimated:  result.Estimated(),
		Details:    result.Details,
	}
}

// handleMarketSize serves GET /v1/market-size?id=<identifier>&region=<region>
func handleMarketSize(w http.ResponseWriter, r *http.Request, orch *orchestrator.Orchestrator, logger *observability.Logger) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	region := r.URL.Query().Get("region")

	result, err := orch.Lookup(r.Context(), id, region)
	if err != nil {
		// The orchestrator only errors on malformed input
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	resp := toMarketSizeResponse(id, region, result)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.LogError(r.Context(), "failed to encode response", err)
	}
}

// handleMarketSizeBatch serves POST /v1/market-size/batch with a JSON body
// of identifiers. Lookups run concurrently; malformed identifiers fail their
// own item without failing the batch.
func handleMarketSizeBatch(w http.ResponseWriter, r *http.Request, orch *orchestrator.Orchestrator, logger *observability.Logger) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Identifiers []string `json:"identifiers"`
		Region      string   `json:"region"`
		Concurrency int      `json:"concurrency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Identifiers) == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "identifiers must not be empty"})
		return
	}

	items, err := orch.LookupBatch(r.Context(), req.Identifiers, req.Region, req.Concurrency)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	resp := struct {
		Results []marketSizeResponse `json:"results"`
	}{Results: make([]marketSizeResponse, 0, len(items))}

	for _, item := range items {
		if item.Err != nil {
			resp.Results = append(resp.Results, marketSizeResponse{
				Identifier: item.Identifier,
				Error:      item.Err.Error(),
			})
			continue
		}
		resp.Results = append(resp.Results, toMarketSizeResponse(item.Identifier, req.Region, item.Result))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.LogError(r.Context(), "failed to encode response", err)
	}
}
