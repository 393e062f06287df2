package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"perpcore/internal/event"
	"perpcore/internal/observability"
)

// Envelope wraps an engine event for downstream consumers. Sequence is
// a publisher-local counter; consumers wanting gap detection should
// track it per connection.
type Envelope struct {
	Sequence  uint64      `json:"sequence"`
	EventType string      `json:"event_type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher is an event.Sink that forwards engine events to JetStream
// on perp.core.events.{type}. Publish never blocks the engine: events
// queue into a buffer and overflow is dropped with a warning, since
// downstream consumers can always re-derive state from the store.
type Publisher struct {
	js  jetstream.JetStream
	ch  chan event.Event
	seq uint64
	log zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, buffer int) *Publisher {
	return &Publisher{
		js:  js,
		ch:  make(chan event.Event, buffer),
		log: observability.NewLogger("publisher"),
	}
}

func (p *Publisher) Publish(ev event.Event) {
	select {
	case p.ch <- ev:
	default:
		p.log.Warn().Str("type", ev.Type()).Msg("publish buffer full, event dropped")
	}
}

// Run drains the buffer until the context is cancelled. Publish
// failures are logged and skipped; the event store remains the source
// of truth.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-p.ch:
			p.seq++
			data, err := json.Marshal(Envelope{
				Sequence:  p.seq,
				EventType: ev.Type(),
				Payload:   ev,
				Timestamp: time.Now(),
			})
			if err != nil {
				p.log.Error().Err(err).Str("type", ev.Type()).Msg("marshal event")
				continue
			}
			subject := "perp.core.events." + ev.Type()
			if _, err := p.js.Publish(ctx, subject, data); err != nil {
				p.log.Warn().Err(err).Str("subject", subject).Msg("outbound publish failed")
			}
		}
	}
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PERP_CORE_EVENTS",
		Subjects:  []string{"perp.core.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
