package ingestion

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"MarginMirror/internal/chain"
)

// MsgPublisher is the slice of jetstream.JetStream the relay needs.
type MsgPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Relay forwards websocket account notifications onto the accounts stream so
// every mirror instance sees them without holding its own subscriptions.
type Relay struct {
	pub MsgPublisher
	log zerolog.Logger
}

func NewRelay(pub MsgPublisher, log zerolog.Logger) *Relay {
	return &Relay{pub: pub, log: log}
}

// Run publishes every update from in until ctx ends or in is closed.
func (r *Relay) Run(ctx context.Context, in <-chan chain.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-in:
			if !ok {
				return nil
			}
			if err := r.Forward(ctx, u); err != nil {
				r.log.Warn().Err(err).Str("address", u.Address.String()).Msg("relay failed")
			}
		}
	}
}

// Forward publishes one update. The (address, slot) pair is the message id.
func (r *Relay) Forward(ctx context.Context, u chain.Update) error {
	data, err := EncodeAccountUpdate(u)
	if err != nil {
		return err
	}
	id := fmt.Sprintf("%s:%d", u.Address, u.Slot)
	if _, err := r.pub.Publish(ctx, AccountSubject(u.Address), data, jetstream.WithMsgID(id)); err != nil {
		return fmt.Errorf("publish %s: %w", AccountSubject(u.Address), err)
	}
	return nil
}
