package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher sends events to every subscriber. Events passed in one call are
// published in order over a single connection.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// RedisPublisher publishes JSON envelopes on a Redis channel. Every API process's
// Hub subscribes to the same channel.
type RedisPublisher struct {
	rdb     redis.UniversalClient
	channel string
	now     func() time.Time
}

func NewRedisPublisher(rdb redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel, now: time.Now}
}

func (p *RedisPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	frames, err := encodeAll(events, p.now())
	if err != nil {
		return err
	}

	pipe := p.rdb.Pipeline()
	for _, f := range frames {
		pipe.Publish(ctx, p.channel, f)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("realtime: publish to %s: %w", p.channel, err)
	}
	return nil
}

// LocalPublisher hands envelopes straight to an in-process Hub, skipping Redis.
type LocalPublisher struct {
	Hub *Hub
	now func() time.Time
}

func NewLocalPublisher(h *Hub) *LocalPublisher {
	return &LocalPublisher{Hub: h, now: time.Now}
}

func (p *LocalPublisher) Publish(ctx context.Context, events ...Event) error {
	frames, err := encodeAll(events, p.now())
	if err != nil {
		return err
	}
	for _, f := range frames {
		p.Hub.Broadcast(ctx, f)
	}
	return nil
}

func encodeAll(events []Event, at time.Time) ([][]byte, error) {
	frames := make([][]byte, 0, len(events))
	for _, ev := range events {
		env, err := NewEnvelope(ev, at)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("realtime: encode envelope: %w", err)
		}
		frames = append(frames, b)
	}
	return frames, nil
}
