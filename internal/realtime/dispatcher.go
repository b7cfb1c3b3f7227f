package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/tierd/tierd-go/internal/logger"
	"github.com/tierd/tierd-go/internal/metrics"
	"github.com/tierd/tierd-go/internal/model"
)

const defaultPublishTimeout = 2 * time.Second

// Dispatcher connects the vote pipeline to a Broker and the broker to the
// local Hub. Publishing never blocks the caller and never reports failure.
type Dispatcher struct {
	broker  Broker
	hub     *Hub
	timeout time.Duration
	wg      sync.WaitGroup
	log     zerolog.Logger
}

func NewDispatcher(broker Broker, hub *Hub, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Dispatcher{
		broker:  broker,
		hub:     hub,
		timeout: timeout,
		log:     logger.Component("dispatcher"),
	}
}

func (d *Dispatcher) Hub() *Hub { return d.hub }

// Publish sends delta in the background with a bounded timeout. Errors are
// logged and counted, then dropped.
func (d *Dispatcher) Publish(delta model.Delta) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.broker.Publish(ctx, delta); err != nil {
			metrics.BroadcastFailures.WithLabelValues(d.broker.Name()).Inc()
			d.log.Warn().Err(err).
				Str("driver", d.broker.Name()).
				Str("product_id", delta.ProductID).
				Int64("version", delta.Version).
				Msg("delta publish failed")
		}
	}()
}

// Flush waits for in-flight publishes.
func (d *Dispatcher) Flush() {
	d.wg.Wait()
}

// Run feeds broker deltas into the hub until ctx is cancelled, resubscribing
// with exponential backoff when the broker connection drops.
func (d *Dispatcher) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	op := func() error {
		err := d.broker.Subscribe(ctx, d.hub.Deliver)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errSubscriptionClosed
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		d.log.Warn().Err(err).Str("driver", d.broker.Name()).Dur("retry_in", wait).Msg("subscription lost")
	}

	d.log.Info().Str("driver", d.broker.Name()).Msg("subscribing")
	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if err != nil && !errors.Is(err, context.Canceled) {
		d.log.Error().Err(err).Msg("subscription loop ended")
	}
}
