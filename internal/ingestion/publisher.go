package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"MarginMirror/internal/event"
	"MarginMirror/internal/observability"
)

// EventPublisher drains envelopes onto mirror.events.<type>. The idempotency
// key travels as the JetStream message id, so a republished fact inside the
// stream's duplicate window is dropped by the server.
type EventPublisher struct {
	js        jetstream.JetStream
	inputChan chan *event.Envelope
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewEventPublisher(js jetstream.JetStream, buffer int, log zerolog.Logger, metrics *observability.Metrics) *EventPublisher {
	return &EventPublisher{
		js:        js,
		inputChan: make(chan *event.Envelope, buffer),
		log:       log,
		metrics:   metrics,
	}
}

// Enqueue hands env to the publish loop without blocking. It reports false
// when the buffer is full and the envelope was dropped.
func (p *EventPublisher) Enqueue(env *event.Envelope) bool {
	select {
	case p.inputChan <- env:
		return true
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
		return false
	}
}

// Run publishes until ctx is cancelled. Publish failures are logged and
// skipped: the same facts are recomputed on the next scan.
func (p *EventPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-p.inputChan:
			if err := p.Publish(ctx, env); err != nil {
				p.log.Warn().Err(err).
					Str("event_type", env.EventType.String()).
					Str("key", env.IdempotencyKey).
					Msg("outbound publish failed")
			}
		}
	}
}

// Publish sends one envelope synchronously.
func (p *EventPublisher) Publish(ctx context.Context, env *event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := p.js.Publish(ctx, env.Subject(), data, jetstream.WithMsgID(env.IdempotencyKey)); err != nil {
		return fmt.Errorf("publish %s: %w", env.Subject(), err)
	}
	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(env.EventType.String()).Inc()
	}
	return nil
}
