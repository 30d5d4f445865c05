package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "mkcompany:changes"

type envelope struct {
	Origin string      `json:"origin"`
	Event  ChangeEvent `json:"event"`
}

// Bridge fans events out across instances over Redis pub/sub. Local events
// reach the local Hub directly; events from other instances are replayed
// into it by Run.
type Bridge struct {
	client  *redis.Client
	hub     *Hub
	channel string
	origin  string
	logger  *slog.Logger
}

type BridgeOption func(*Bridge)

func WithChannel(channel string) BridgeOption {
	return func(b *Bridge) {
		b.channel = channel
	}
}

func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logger
	}
}

func NewBridge(client *redis.Client, hub *Hub, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		client:  client,
		hub:     hub,
		channel: DefaultChannel,
		origin:  uuid.NewString(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers locally and then to the other instances. A Redis failure
// is logged: the change itself is already stored and local viewers are told.
func (b *Bridge) Publish(ctx context.Context, event ChangeEvent) {
	b.hub.Publish(ctx, event)

	payload, err := json.Marshal(envelope{Origin: b.origin, Event: event})
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to encode change event", "error", err)
		return
	}
	if err := b.client.Publish(context.WithoutCancel(ctx), b.channel, payload).Err(); err != nil {
		b.logger.WarnContext(ctx, "failed to fan out change event",
			"table", event.Table,
			"error", err,
		)
	}
}

func (b *Bridge) Subscribe(ctx context.Context, tables ...string) <-chan ChangeEvent {
	return b.hub.Subscribe(ctx, tables...)
}

// Run forwards events published by other instances until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.WarnContext(ctx, "dropping malformed change event", "error", err)
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			b.hub.Publish(ctx, env.Event)
		}
	}
}
