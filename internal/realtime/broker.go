package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tierd/tierd-go/internal/model"
)

// TopicPrefix namespaces every delta topic, subject and routing key.
const TopicPrefix = "tierd.votes"

var errSubscriptionClosed = errors.New("broker subscription closed")

// Topic returns the per-product topic for a delta.
func Topic(productID string) string {
	return TopicPrefix + "." + productID
}

// Broker moves deltas between server instances.
type Broker interface {
	// Name identifies the driver in logs and metrics.
	Name() string
	Publish(ctx context.Context, delta model.Delta) error
	// Subscribe calls handle for every delta until ctx is done or the
	// underlying connection fails. It returns ctx.Err() on cancellation.
	Subscribe(ctx context.Context, handle func(model.Delta)) error
	Close() error
}

func encodeDelta(delta model.Delta) ([]byte, error) {
	return json.Marshal(delta)
}

func decodeDelta(data []byte) (model.Delta, error) {
	var d model.Delta
	if err := json.Unmarshal(data, &d); err != nil {
		return model.Delta{}, err
	}
	if d.ProductID == "" {
		return model.Delta{}, errors.New("delta without productId")
	}
	return d, nil
}
