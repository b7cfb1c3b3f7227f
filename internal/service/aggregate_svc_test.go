package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierd/tierd-go/internal/model"
)

func TestReconcile_CorrectsDriftAndBroadcasts(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	f.cast(t, "u1", "p1", model.DirectionUp)
	f.cast(t, "u2", "p1", model.DirectionUp)
	f.cast(t, "u3", "p1", model.DirectionDown)

	// Warm the score cache, then corrupt the counters.
	_, err := f.rankings.ProductScore(ctx, "p1")
	require.NoError(t, err)
	f.store.SetCounts("p1", 40, 0)
	published := len(f.pub.all())

	res, err := f.agg.Reconcile(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, res.Corrected)
	assert.Equal(t, 2, res.Upvotes)
	assert.Equal(t, 1, res.Downvotes)
	assert.Equal(t, 1, res.Score)
	assert.Equal(t, 40, res.StoredUpvotes)

	_, cached := f.rankings.Cache().Peek("p1")
	assert.False(t, cached, "correction must invalidate the cached score")

	deltas := f.pub.all()
	require.Len(t, deltas, published+1)
	last := deltas[len(deltas)-1]
	assert.Equal(t, 2, last.NewUpvotes)
	assert.Equal(t, res.Version, last.Version)
}

func TestReconcileAll_Report(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	f.cast(t, "u1", "p1", model.DirectionUp)
	f.cast(t, "u1", "p2", model.DirectionDown)
	f.store.SetCounts("p2", 3, 3)

	report, err := f.agg.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Corrected)
	require.Len(t, report.Details, 2)
	assert.Equal(t, "p1", report.Details[0].ProductID)
	assert.False(t, report.Details[0].Corrected)
	assert.Equal(t, "p2", report.Details[1].ProductID)
	assert.True(t, report.Details[1].Corrected)
	assert.Equal(t, 1, report.Details[1].Downvotes)

	again, err := f.agg.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Corrected)
}

func TestReconcile_UnknownProduct(t *testing.T) {
	f := newFixture(t, time.Minute)
	_, err := f.agg.Reconcile(context.Background(), "ghost")
	assert.ErrorIs(t, err, model.ErrProductNotFound)
}

func TestReconcileWorker_SweepsAndStops(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.cast(t, "u1", "p1", model.DirectionUp)
	f.store.SetCounts("p1", 9, 9)

	w := NewReconcileWorker(f.agg, f.rankings, time.Minute, f.clock)
	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		c, err := f.store.Counts(context.Background(), "p1")
		return err == nil && c.Upvotes == 1 && c.Downvotes == 0
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
	w.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
