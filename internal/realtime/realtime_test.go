package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierd/tierd-go/internal/config"
	"github.com/tierd/tierd-go/internal/model"
)

func receive(t *testing.T, sub *Subscription) model.Delta {
	t.Helper()
	select {
	case d, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delta")
	}
	return model.Delta{}
}

func TestHub_FiltersByProduct(t *testing.T) {
	hub := NewHub(4)
	p1 := hub.Subscribe("p1")
	all := hub.Subscribe("")

	hub.Deliver(model.Delta{ProductID: "p2", Version: 1})
	hub.Deliver(model.Delta{ProductID: "p1", Version: 2})

	assert.Equal(t, int64(2), receive(t, p1).Version)
	assert.Equal(t, int64(1), receive(t, all).Version)
	assert.Equal(t, int64(2), receive(t, all).Version)
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("p1")

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 10; i++ {
			hub.Deliver(model.Delta{ProductID: "p1", Version: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Deliver blocked on a full subscriber")
	}
	assert.Equal(t, int64(1), receive(t, sub).Version)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("p1")
	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Zero(t, hub.Count())
}

func TestDispatcher_LocalRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := NewLocalBroker()
	hub := NewHub(4)
	d := NewDispatcher(broker, hub, time.Second)
	go d.Run(ctx)

	sub := hub.Subscribe("p1")
	require.Eventually(t, func() bool {
		broker.mu.RLock()
		defer broker.mu.RUnlock()
		return len(broker.handlers) == 1
	}, time.Second, 5*time.Millisecond)

	d.Publish(model.Delta{ProductID: "p1", NewUpvotes: 3, Version: 7})
	d.Flush()

	got := receive(t, sub)
	assert.Equal(t, 3, got.NewUpvotes)
	assert.Equal(t, int64(7), got.Version)
}

type failingBroker struct{ LocalBroker }

func (*failingBroker) Name() string { return "failing" }

func (*failingBroker) Publish(context.Context, model.Delta) error {
	return errors.New("broker down")
}

func TestDispatcher_PublishFailureIsSwallowed(t *testing.T) {
	d := NewDispatcher(&failingBroker{}, NewHub(1), 50*time.Millisecond)
	d.Publish(model.Delta{ProductID: "p1"})
	d.Flush()
}

func TestRedisBroker_PublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	broker := NewRedisBroker(rdb)
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan model.Delta, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- broker.Subscribe(ctx, func(d model.Delta) { got <- d })
	}()

	require.Eventually(t, func() bool {
		return mr.PubSubNumPat() > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, broker.Publish(ctx, model.Delta{ProductID: "p9", NewDownvotes: 2, Version: 4}))

	select {
	case d := <-got:
		assert.Equal(t, "p9", d.ProductID)
		assert.Equal(t, int64(4), d.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for redis delta")
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}

func TestDecodeDelta_RejectsGarbage(t *testing.T) {
	_, err := decodeDelta([]byte("{not json"))
	assert.Error(t, err)
	_, err = decodeDelta([]byte(`{"newUpvotes":1}`))
	assert.Error(t, err)
}

func TestNewBroker_UnknownDriver(t *testing.T) {
	_, err := NewBroker(context.Background(), &config.Config{BroadcastDriver: "carrier-pigeon"})
	assert.Error(t, err)

	b, err := NewBroker(context.Background(), &config.Config{BroadcastDriver: "local"})
	require.NoError(t, err)
	assert.Equal(t, "local", b.Name())
}
