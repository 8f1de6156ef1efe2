// Package broker relays gateway events between chatterd nodes over NATS
// JetStream.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/johndosdos/chatterd/internal/model"
)

// Envelope is what travels on the stream. Site is always set; exactly one
// of Room and Channel is.
type Envelope struct {
	Node    string         `json:"node"`
	Site    model.SiteID   `json:"site"`
	Room    model.RoomID   `json:"room,omitempty"`
	Channel string         `json:"channel,omitempty"`
	Event   model.RawEvent `json:"event"`
}

// EnsureStream creates or updates the events stream. Events are only useful
// while fresh, so the stream keeps them in memory for a short time.
func EnsureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectAll},
		Storage:  jetstream.MemoryStorage,
		MaxAge:   time.Minute,
		MaxBytes: 256 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}
	return stream, nil
}

// Publisher is a gateway.Gateway that publishes events for other nodes.
type Publisher struct {
	js   jetstream.JetStream
	node string
}

func NewPublisher(js jetstream.JetStream, node string) *Publisher {
	return &Publisher{js: js, node: node}
}

// Node returns the identifier stamped on published envelopes.
func (p *Publisher) Node() string {
	return p.node
}

func (p *Publisher) BroadcastToRoom(ctx context.Context, site model.SiteID, room model.RoomID, ev model.Event) error {
	return p.publish(ctx, SubjectRoom(site, room), Envelope{Site: site, Room: room}, ev)
}

func (p *Publisher) BroadcastToChannel(ctx context.Context, site model.SiteID, channelID string, ev model.Event) error {
	return p.publish(ctx, SubjectChannel(site, channelID), Envelope{Site: site, Channel: channelID}, ev)
}

func (p *Publisher) publish(ctx context.Context, subject string, env Envelope, ev model.Event) error {
	if p.js == nil {
		return errors.New("jetstream interface is nil")
	}

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("could not encode event data: %w", err)
	}
	env.Node = p.node
	env.Event = model.RawEvent{Type: ev.Type, Data: data}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("could not encode envelope: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(uuid.NewString())); err != nil {
		return fmt.Errorf("failed to publish to stream [%s]: %w", subject, err)
	}
	return nil
}

// Subscribe consumes every event published after it starts and passes the
// ones from other nodes to handle. It stops when ctx is done.
func Subscribe(ctx context.Context, stream jetstream.Stream, node string, handle func(context.Context, Envelope), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              "events-" + node,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckNonePolicy,
		FilterSubject:     SubjectAll,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to create or update consumer: %w", err)
	}

	consumeHandler := func(msg jetstream.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data(), &env); err != nil {
			logger.WarnContext(ctx, "could not decode envelope",
				"error", err,
				"subject", msg.Subject())
			return
		}
		if env.Node == node {
			return
		}
		handle(ctx, env)
	}

	optErrHandler := jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		logger.WarnContext(ctx, "consumer error", "error", err)
	})

	consumeCtx, err := consumer.Consume(consumeHandler, optErrHandler)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go func() {
		<-ctx.Done()
		consumeCtx.Drain()
	}()

	return nil
}
