// Package notification publishes operational alerts raised by the lookup
// pipeline, currently provider-exhaustion events where every real data
// source failed and an estimated value was served instead.
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quantrail/marketsizer/internal/platform/aws"
	"github.com/quantrail/marketsizer/internal/platform/observability"
	"go.opentelemetry.io/otel/attribute"
)

// ExhaustionAlert describes a lookup for which every configured provider was
// skipped or failed, so the caller received an estimated value.
type ExhaustionAlert struct {
	Identifier string    `json:"identifier"`
	Region     string    `json:"region,omitempty"`
	Kind       string    `json:"kind"`
	Attempted  []string  `json:"attempted"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher is implemented by alert sinks.
type Publisher interface {
	PublishExhaustion(ctx context.Context, alert ExhaustionAlert) error
}

// SNSPublisher publishes exhaustion alerts to an SNS topic
type SNSPublisher struct {
	snsClient *aws.SNSClient
	topicARN  string
	logger    *observability.Logger
	tracer    observability.Tracer
}

// SNSPublisherConfig holds publisher configuration
type SNSPublisherConfig struct {
	SNSClient *aws.SNSClient
	TopicARN  string
	Logger    *observability.Logger
	Tracer    observability.Tracer
}

// NewSNSPublisher creates a new exhaustion alert publisher
func NewSNSPublisher(cfg SNSPublisherConfig) (*SNSPublisher, error) {
	if cfg.SNSClient == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &SNSPublisher{
		snsClient: cfg.SNSClient,
		topicARN:  cfg.TopicARN,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
	}, nil
}

// PublishExhaustion publishes a provider-exhaustion alert to SNS
func (p *SNSPublisher) PublishExhaustion(ctx context.Context, alert ExhaustionAlert) error {
	ctx, span := p.tracer.StartSpan(
		ctx,
		"SNSPublisher.PublishExhaustion",
		observability.WithAttributes(
			attribute.String("identifier", alert.Identifier),
			attribute.String("kind", alert.Kind),
			attribute.String("topic_arn", p.topicARN),
		),
	)
	defer span.End()

	// Message attributes enable SNS subscription filtering
	attributes := map[string]string{
		"kind":      alert.Kind,
		"attempted": strings.Join(alert.Attempted, ","),
	}

	if err := p.snsClient.Publish(ctx, p.topicARN, alert, attributes); err != nil {
		span.NoticeError(err)
		if p.logger != nil {
			p.logger.LogError(ctx, "failed to publish exhaustion alert", err,
				"identifier", alert.Identifier,
				"topic_arn", p.topicARN,
			)
		}
		return fmt.Errorf("SNS publish failed: %w", err)
	}

	if p.logger != nil {
		p.logger.LogInfo(ctx, "published exhaustion alert",
			"identifier", alert.Identifier,
			"kind", alert.Kind,
			"attempted", strings.Join(alert.Attempted, ","),
		)
	}

	return nil
}

// CircuitBreakerState returns the current SNS circuit breaker state
func (p *SNSPublisher) CircuitBreakerState() string {
	return p.snsClient.CircuitBreakerState().String()
}
