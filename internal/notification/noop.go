package notification

import (
	"context"
	"strings"

	"github.com/quantrail/marketsizer/internal/platform/observability"
)

// NoOpPublisher logs alerts instead of publishing them. Use when SNS is not
// configured (local development, testing).
type NoOpPublisher struct {
	logger *observability.Logger
}

// NewNoOpPublisher creates a new no-op publisher that only logs alerts.
func NewNoOpPublisher(logger *observability.Logger) *NoOpPublisher {
	return &NoOpPublisher{
		logger: logger,
	}
}

// PublishExhaustion logs the alert instead of publishing to SNS.
func (p *NoOpPublisher) PublishExhaustion(ctx context.Context, alert ExhaustionAlert) error {
	if p.logger != nil {
		p.logger.LogWarn(ctx, "provider chain exhausted (alerting disabled)",
			"identifier", alert.Identifier,
			"region", alert.Region,
			"kind", alert.Kind,
			"attempted", strings.Join(alert.Attempted, ","),
		)
	}
	return nil
}
