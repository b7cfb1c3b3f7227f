package realtime

import (
	"context"
	"sync"

	"github.com/tierd/tierd-go/internal/model"
)

// LocalBroker delivers deltas within a single process.
type LocalBroker struct {
	mu       sync.RWMutex
	handlers map[int]func(model.Delta)
	next     int
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{handlers: make(map[int]func(model.Delta))}
}

func (b *LocalBroker) Name() string { return "local" }

func (b *LocalBroker) Publish(ctx context.Context, delta model.Delta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(delta)
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, handle func(model.Delta)) error {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = handle
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
	return ctx.Err()
}

func (b *LocalBroker) Close() error { return nil }
