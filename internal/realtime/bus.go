package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"softphone-queue/pkg/logger"

	"github.com/redis/go-redis/v9"
)

var ErrBusOpen = errors.New("realtime: bus already open")

// busOpen enforces one Bus per process.
var busOpen atomic.Bool

// Bus owns the realtime transport for the lifetime of the process: the Redis
// subscription feeding the local Hub and the publisher used by the state machine.
type Bus struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	pub     *RedisPublisher

	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// OpenBus subscribes to channel and starts forwarding to hub. It fails if another
// Bus is open or the subscription is not confirmed before ctx ends.
func OpenBus(ctx context.Context, rdb *redis.Client, channel string, hub *Hub) (*Bus, error) {
	if rdb == nil || hub == nil {
		return nil, errors.New("realtime: redis client and hub are required")
	}
	if !busOpen.CompareAndSwap(false, true) {
		return nil, ErrBusOpen
	}

	ps := rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		busOpen.Store(false)
		return nil, fmt.Errorf("realtime: subscribe %s: %w", channel, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Bus{
		rdb:     rdb,
		channel: channel,
		hub:     hub,
		pub:     NewRedisPublisher(rdb, channel),
		pubsub:  ps,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(b.done)
		hub.Run(runCtx, ps.Channel())
	}()

	logger.From(ctx).Info("realtime bus open", "channel", channel)
	return b, nil
}

func (b *Bus) Publisher() Publisher { return b.pub }

func (b *Bus) Hub() *Hub { return b.hub }

// Close stops forwarding, drops subscribers and releases the subscription. The
// Redis client itself belongs to the caller.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		b.closeErr = b.pubsub.Close()
		<-b.done
		b.hub.Close()
		busOpen.Store(false)
	})
	return b.closeErr
}
