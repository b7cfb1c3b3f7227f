package realtime

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/tierd/tierd-go/internal/logger"
	"github.com/tierd/tierd-go/internal/model"
)

// AMQPBroker publishes deltas to a RabbitMQ topic exchange with the product
// topic as routing key. Each instance consumes through its own exclusive,
// auto-deleted queue.
type AMQPBroker struct {
	conn     *amqp.Connection
	pubMu    sync.Mutex
	pubCh    *amqp.Channel
	exchange string
	log      zerolog.Logger
}

func NewAMQPBroker(url, exchange string) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPBroker{
		conn:     conn,
		pubCh:    ch,
		exchange: exchange,
		log:      logger.Component("broker-rabbitmq"),
	}, nil
}

func (b *AMQPBroker) Name() string { return "rabbitmq" }

func (b *AMQPBroker) Publish(ctx context.Context, delta model.Delta) error {
	body, err := encodeDelta(delta)
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing.
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	return b.pubCh.PublishWithContext(ctx,
		b.exchange,
		Topic(delta.ProductID),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient,
			Timestamp:    delta.EmittedAt,
			Body:         body,
		},
	)
}

func (b *AMQPBroker) Subscribe(ctx context.Context, handle func(model.Delta)) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, TopicPrefix+".#", b.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	b.log.Info().Str("queue", q.Name).Msg("consumer started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errSubscriptionClosed
			}
			delta, err := decodeDelta(d.Body)
			if err != nil {
				b.log.Warn().Err(err).Str("routing_key", d.RoutingKey).Msg("dropping malformed delta")
				continue
			}
			handle(delta)
		}
	}
}

func (b *AMQPBroker) Close() error {
	if b.pubCh != nil {
		_ = b.pubCh.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
