// Package ingestion connects the deterministic core to NATS JetStream:
// inbound subjects carry transactions, outbound subjects carry the
// events the engine emits. Everything nondeterministic (network,
// clocks, retries) stays on this side of the boundary.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"perpcore/internal/observability"
)

// RawTx is a transaction payload pulled off NATS, not yet parsed. The
// ack functions let the sequencing loop confirm or redeliver after the
// engine has (or has not) applied it.
type RawTx struct {
	Subject  string
	Kind     string
	Data     []byte
	Received time.Time
	Ack      func()
	Nak      func()
}

// SubjectConfig maps one inbound subject to a transaction kind.
type SubjectConfig struct {
	Subject      string
	Kind         string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard inbound subject layout: one
// subject per transaction kind so consumers scale independently.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "perp.tx.deposit.>", Kind: "deposit", ConsumerName: "core-deposit", StreamName: "PERP_TX_FUNDS"},
		{Subject: "perp.tx.withdraw.>", Kind: "withdraw", ConsumerName: "core-withdraw", StreamName: "PERP_TX_FUNDS"},
		{Subject: "perp.tx.transfer.>", Kind: "transfer", ConsumerName: "core-transfer", StreamName: "PERP_TX_FUNDS"},
		{Subject: "perp.tx.bridge_deposit.>", Kind: "bridge_deposit", ConsumerName: "core-bridge-dep", StreamName: "PERP_TX_BRIDGE"},
		{Subject: "perp.tx.bridge_withdraw.>", Kind: "bridge_withdraw", ConsumerName: "core-bridge-wd", StreamName: "PERP_TX_BRIDGE"},
		{Subject: "perp.tx.place_order.>", Kind: "place_order", ConsumerName: "core-place", StreamName: "PERP_TX_ORDERS"},
		{Subject: "perp.tx.cancel_order.>", Kind: "cancel_order", ConsumerName: "core-cancel", StreamName: "PERP_TX_ORDERS"},
		{Subject: "perp.tx.close_position.>", Kind: "close_position", ConsumerName: "core-close", StreamName: "PERP_TX_ORDERS"},
		{Subject: "perp.tx.liquidate.>", Kind: "liquidate", ConsumerName: "core-liquidate", StreamName: "PERP_TX_RISK"},
		{Subject: "perp.tx.update_funding.>", Kind: "update_funding", ConsumerName: "core-funding", StreamName: "PERP_TX_RISK"},
		{Subject: "perp.tx.admin.>", Kind: "admin", ConsumerName: "core-admin", StreamName: "PERP_TX_ADMIN"},
	}
}

// Subscriber feeds inbound transactions into the sequencing channel.
type Subscriber struct {
	js        jetstream.JetStream
	out       chan<- RawTx
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

func NewSubscriber(js jetstream.JetStream, out chan<- RawTx) *Subscriber {
	return &Subscriber{
		js:  js,
		out: out,
		log: observability.NewLogger("ingestion"),
	}
}

// Subscribe creates a durable consumer per configured subject.
// Explicit ack, five deliveries, thirty-second ack wait.
func (s *Subscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		cfg := cfg
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawTx{
				Subject:  msg.Subject(),
				Kind:     cfg.Kind,
				Data:     msg.Data(),
				Received: time.Now(),
				Ack:      func() { _ = msg.Ack() },
				Nak:      func() { _ = msg.Nak() },
			}
			select {
			case s.out <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}
		s.consumers = append(s.consumers, cc)
		s.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

// Stop drains all consumers.
func (s *Subscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	s.log.Info().Msg("subscribers stopped")
}

// EnsureStreams creates the inbound streams if missing. File storage,
// limits retention, 72h max age.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{Name: "PERP_TX_FUNDS", Subjects: []string{"perp.tx.deposit.>", "perp.tx.withdraw.>", "perp.tx.transfer.>"}},
		{Name: "PERP_TX_BRIDGE", Subjects: []string{"perp.tx.bridge_deposit.>", "perp.tx.bridge_withdraw.>"}},
		{Name: "PERP_TX_ORDERS", Subjects: []string{"perp.tx.place_order.>", "perp.tx.cancel_order.>", "perp.tx.close_position.>"}},
		{Name: "PERP_TX_RISK", Subjects: []string{"perp.tx.liquidate.>", "perp.tx.update_funding.>"}},
		{Name: "PERP_TX_ADMIN", Subjects: []string{"perp.tx.admin.>"}},
	}
	for _, cfg := range streams {
		cfg.Storage = jetstream.FileStorage
		cfg.Retention = jetstream.LimitsPolicy
		cfg.MaxAge = 72 * time.Hour
		cfg.Replicas = 1
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Connect dials NATS with unbounded reconnects and returns a JetStream
// handle.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("reconnected")
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
