package realtime

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tierd/tierd-go/internal/logger"
	"github.com/tierd/tierd-go/internal/model"
)

// RedisBroker uses Redis Pub/Sub with one channel per product.
type RedisBroker struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb, log: logger.Component("broker-redis")}
}

func (b *RedisBroker) Name() string { return "redis" }

func (b *RedisBroker) Publish(ctx context.Context, delta model.Delta) error {
	data, err := encodeDelta(delta)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, Topic(delta.ProductID), data).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, handle func(model.Delta)) error {
	ps := b.rdb.PSubscribe(ctx, TopicPrefix+".*")
	defer ps.Close()

	// Wait for the subscription confirmation so publishes right after
	// Subscribe returns are not lost.
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errSubscriptionClosed
			}
			delta, err := decodeDelta([]byte(msg.Payload))
			if err != nil {
				b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed delta")
				continue
			}
			handle(delta)
		}
	}
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
