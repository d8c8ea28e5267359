package progress

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/corvusmr/prodigy/internal/events"
)

// RedisBridge republishes every event onto a Redis pub/sub channel, and
// republishes every message received on that channel into a local
// Broadcaster -- letting multiple dashboard processes (e.g. one per
// coordinator host) share one live event stream, per SPEC_FULL's
// cross-process fan-out wiring for the progress tracker.
type RedisBridge struct {
	client  *redis.Client
	channel string
}

// NewRedisBridge constructs a bridge over an existing client.
func NewRedisBridge(client *redis.Client, channel string) *RedisBridge {
	return &RedisBridge{client: client, channel: channel}
}

// Publish implements events.Sink by publishing to the Redis channel; pair
// it with events.MultiSink to also publish locally.
func (b *RedisBridge) Emit(e events.Event) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	_ = b.client.Publish(context.Background(), b.channel, raw).Err()
}

var _ events.Sink = (*RedisBridge)(nil)

// Relay subscribes to the Redis channel and forwards every message into
// local until ctx is cancelled.
func (b *RedisBridge) Relay(ctx context.Context, local events.Sink) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e events.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				continue
			}
			local.Emit(e)
		}
	}
}
