package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tierd/tierd-go/internal/config"
)

// NewBroker builds the broker selected by cfg.BroadcastDriver.
func NewBroker(ctx context.Context, cfg *config.Config) (Broker, error) {
	switch cfg.BroadcastDriver {
	case "", "local":
		return NewLocalBroker(), nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedisBroker(rdb), nil
	case "rabbitmq":
		return NewAMQPBroker(cfg.RabbitURL, cfg.RabbitExchange)
	case "nats":
		return NewNATSBroker(cfg.NatsURL)
	}
	return nil, fmt.Errorf("unknown broadcast driver %q", cfg.BroadcastDriver)
}
