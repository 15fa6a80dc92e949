// Package ingestion moves account bytes and mirror events over NATS
// JetStream. Inbound, it consumes raw account updates relayed from the chain
// websocket; outbound, it publishes scan results for downstream keepers.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	AccountsStream  = "MIRROR_ACCOUNTS"
	AccountsSubject = "mirror.accounts.>"
	accountsPrefix  = "mirror.accounts."

	EventsStream  = "MIRROR_EVENTS"
	EventsSubject = "mirror.events.>"
)

// RawUpdate is an undecoded message from the accounts stream.
type RawUpdate struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func()
	NakFunc   func()
}

// AccountSubscriber feeds account updates from JetStream into updateChan.
type AccountSubscriber struct {
	js         jetstream.JetStream
	updateChan chan<- RawUpdate
	consumer   jetstream.ConsumeContext
	log        zerolog.Logger
}

func NewAccountSubscriber(js jetstream.JetStream, updateChan chan<- RawUpdate, log zerolog.Logger) *AccountSubscriber {
	return &AccountSubscriber{js: js, updateChan: updateChan, log: log}
}

// Subscribe creates a durable consumer on the accounts stream. Only new
// messages are delivered: an update older than the first scan is useless.
func (s *AccountSubscriber) Subscribe(ctx context.Context, consumerName string) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, AccountsStream, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: AccountsSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawUpdate{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc:   func() { _ = msg.Ack() },
			NakFunc:   func() { _ = msg.Nak() },
		}
		select {
		case s.updateChan <- raw:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}
	s.consumer = cc
	s.log.Info().Str("subject", AccountsSubject).Str("consumer", consumerName).Msg("subscribed")
	return nil
}

func (s *AccountSubscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.log.Info().Msg("account subscriber stopped")
}

// EnsureStreams creates the inbound and outbound streams if missing. Account
// updates are short-lived; events are kept for replay by late consumers.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      AccountsStream,
			Subjects:  []string{AccountsSubject},
			Storage:   jetstream.MemoryStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    10 * time.Minute,
			Replicas:  1,
		},
		{
			Name:       EventsStream,
			Subjects:   []string{EventsSubject},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 10 * time.Minute,
			Replicas:   1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("marginmirror"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
