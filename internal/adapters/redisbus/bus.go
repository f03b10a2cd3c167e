// Package redisbus relays sync events between server instances over Redis
// pub/sub.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/domain"
)

// Deliverer fans an event out to the local members of its room.
type Deliverer interface {
	Deliver(ev domain.SyncEvent)
}

// Bus implements core.Bus. Every published event comes back through the
// subscription, so the local instance delivers it like any other.
type Bus struct {
	client  *redis.Client
	channel string
	local   Deliverer
	log     zerolog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func New(client *redis.Client, channel string, local Deliverer) *Bus {
	return &Bus{
		client:  client,
		channel: channel,
		local:   local,
		log:     log.With().Str("module", "adapters.redisbus").Str("channel", channel).Logger(),
		done:    make(chan struct{}),
	}
}

func (b *Bus) Publish(ctx context.Context, ev domain.SyncEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish sync event: %w", err)
	}
	return nil
}

// Start subscribes and returns once the subscription is confirmed. Delivery
// runs until ctx ends or Close is called.
func (b *Bus) Start(ctx context.Context) error {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.mu.Lock()
	b.pubsub = ps
	b.mu.Unlock()

	go b.run(ctx, ps.Channel())
	b.log.Info().Msg("relay subscribed")
	return nil
}

func (b *Bus) run(ctx context.Context, ch <-chan *redis.Message) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev domain.SyncEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn().Err(err).Msg("bad relay payload")
				continue
			}
			b.local.Deliver(ev)
		}
	}
}

// Close ends the subscription and waits for the delivery loop.
func (b *Bus) Close() error {
	b.mu.Lock()
	ps := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()
	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-b.done
	return err
}
