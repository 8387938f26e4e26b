// Package events publishes batch and clip lifecycle events to Kafka.
// Publishing is strictly best-effort: the pipeline's durability lives in
// Postgres, so event failures are logged and swallowed.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// Publisher implements domain.EventSink on a Kafka topic.
type Publisher struct {
	client *kgo.Client
	topic  string
}

// NewPublisher connects to the configured brokers. Records are keyed by
// batch id so one batch's events stay ordered within a partition.
func NewPublisher(cfg config.Config) (*Publisher, error) {
	if !cfg.EventsEnabled() {
		return nil, fmt.Errorf("op=events.NewPublisher: no brokers configured")
	}
	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))),
	)
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.KafkaBrokers...),
		kgo.RequestRetries(5),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=events.NewPublisher: %w", err)
	}
	slog.Info("event publisher connected",
		slog.Any("brokers", cfg.KafkaBrokers), slog.String("topic", cfg.EventsTopic))
	return &Publisher{client: client, topic: cfg.EventsTopic}, nil
}

// Publish fires the event asynchronously and logs delivery failures.
func (p *Publisher) Publish(ctx domain.Context, e domain.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Warn("event marshal failed", slog.String("kind", e.Kind), slog.Any("error", err))
		return
	}
	rec := &kgo.Record{Topic: p.topic, Key: []byte(e.BatchID), Value: payload}
	p.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		if err != nil {
			slog.Warn("event publish failed",
				slog.String("kind", e.Kind),
				slog.String("batch_id", e.BatchID),
				slog.Any("error", err))
		}
	})
}

// Close flushes and releases the client.
func (p *Publisher) Close() {
	p.client.Close()
}

// Noop is the sink used when event publishing is not configured.
type Noop struct{}

func (Noop) Publish(domain.Context, domain.Event) {}
