package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yairfalse/cirrus/pkg/resource"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "cirrus:changes"

// ChangeMessage is the JSON payload published for each change.
type ChangeMessage struct {
	Type    resource.DiffType          `json:"type"`
	Target  resource.Key               `json:"target"`
	Name    string                     `json:"name,omitempty"`
	Status  resource.Status            `json:"status"`
	Changes map[string]resource.Change `json:"changes,omitempty"`
	TakenAt time.Time                  `json:"taken_at"`
}

// RedisEmitter publishes changes on a redis pub/sub channel.
type RedisEmitter struct {
	client  *redis.Client
	channel string
}

// NewRedisEmitter connects to the given redis URL and pings it.
func NewRedisEmitter(ctx context.Context, url, channel string) (*RedisEmitter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisEmitter{client: client, channel: channel}, nil
}

// Emit publishes one message per change. The baseline pass publishes nothing.
func (e *RedisEmitter) Emit(ctx context.Context, event Event) error {
	for _, diff := range event.Changes {
		msg := ChangeMessage{
			Type:    diff.Type,
			Target:  diff.Resource.Key(),
			Name:    diff.Resource.Name,
			Status:  diff.Resource.Status,
			Changes: diff.Changes,
			TakenAt: event.TakenAt,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode change %s: %w", msg.Target, err)
		}
		if err := e.client.Publish(ctx, e.channel, data).Err(); err != nil {
			return fmt.Errorf("publish change %s: %w", msg.Target, err)
		}
	}
	return nil
}

// Channel returns the pub/sub channel name.
func (e *RedisEmitter) Channel() string {
	return e.channel
}

// Close releases the redis connection pool.
func (e *RedisEmitter) Close() error {
	return e.client.Close()
}
