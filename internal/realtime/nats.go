package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tierd/tierd-go/internal/logger"
	"github.com/tierd/tierd-go/internal/model"
)

// NATSBroker uses core NATS subjects; delivery is fire-and-forget like the
// rest of propagation, so JetStream persistence is not used.
type NATSBroker struct {
	nc  *nats.Conn
	log zerolog.Logger
}

func NewNATSBroker(url string) (*NATSBroker, error) {
	log := logger.Component("broker-nats")
	nc, err := nats.Connect(url,
		nats.Name("tierd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSBroker{nc: nc, log: log}, nil
}

func (b *NATSBroker) Name() string { return "nats" }

func (b *NATSBroker) Publish(ctx context.Context, delta model.Delta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeDelta(delta)
	if err != nil {
		return err
	}
	return b.nc.Publish(Topic(delta.ProductID), data)
}

func (b *NATSBroker) Subscribe(ctx context.Context, handle func(model.Delta)) error {
	sub, err := b.nc.Subscribe(TopicPrefix+".>", func(msg *nats.Msg) {
		delta, err := decodeDelta(msg.Data)
		if err != nil {
			b.log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed delta")
			return
		}
		handle(delta)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	closed := make(chan struct{})
	b.nc.SetClosedHandler(func(*nats.Conn) { close(closed) })

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-closed:
		return errSubscriptionClosed
	}
}

func (b *NATSBroker) Close() error {
	return b.nc.Drain()
}
