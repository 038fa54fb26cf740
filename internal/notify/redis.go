package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel an SMS gateway subscribes to.
const DefaultRedisChannel = "frontdesk:texts"

// Publisher is the subset of *redis.Client used by Redis.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes each Message as JSON on a pub/sub channel.
type Redis struct {
	client  Publisher
	channel string
}

// NewRedis connects to addr and publishes on channel.
func NewRedis(addr, password, channel string) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	return NewRedisWithClient(rdb, channel)
}

// NewRedisWithClient wraps an existing client (or a test double).
func NewRedisWithClient(client Publisher, channel string) *Redis {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &Redis{client: client, channel: channel}
}

// Notify implements Notifier. It fails when no subscriber received the
// message, since the text would otherwise be silently dropped.
func (r *Redis) Notify(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(webhookPayload{Message: msg, Text: FormatText(msg)})
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	receivers, err := r.client.Publish(ctx, r.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", r.channel, err)
	}
	if receivers == 0 {
		return fmt.Errorf("publishing to %s: no subscribers", r.channel)
	}
	return nil
}

// Close releases the underlying client when it owns one.
func (r *Redis) Close() error {
	if c, ok := r.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
