// Package publish streams settlement events to NATS JetStream for
// downstream consumers. Publishing is best-effort: the event log in Postgres
// is the durable record, so a failed publish is logged and skipped.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"BloomLedger/internal/events"
	"BloomLedger/internal/observability"
)

// StreamName is the JetStream stream holding settlement events.
const StreamName = "BLOOM_SETTLEMENT"

// Publisher drains the publish channel and emits each event to NATS.
// Subjects follow the pattern: bloom.settlement.{kind}.{status}
type Publisher struct {
	js      jetstream.JetStream
	input   <-chan events.Event
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, input <-chan events.Event, log zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{js: js, input: input, log: log, metrics: metrics}
}

// Run publishes until ctx is cancelled or the input channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, ev); err != nil {
				// Non-fatal: consumers can replay from the event log.
				p.log.Warn().
					Err(err).
					Str("event_id", ev.ID.String()).
					Str("kind", ev.Kind).
					Msg("outbound publish failed")
				continue
			}
			if p.metrics != nil {
				p.metrics.PublishedEvents.WithLabelValues(ev.Kind).Inc()
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := fmt.Sprintf("bloom.settlement.%s.%s", ev.Kind, ev.Status)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates or updates the settlement event stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"bloom.settlement.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create settlement stream: %w", err)
	}
	return nil
}
