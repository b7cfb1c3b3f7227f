package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierd/tierd-go/internal/model"
)

func newStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := NewStore(clock)
	s.AddProduct("p1", "Viper Mini")
	return s, clock
}

func TestCastVote_Transitions(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	tests := []struct {
		name     string
		dir      model.Direction
		previous model.Direction
		applied  model.Direction
	}{
		{"first vote inserts", model.DirectionUp, model.DirectionNone, model.DirectionUp},
		{"opposite flips", model.DirectionDown, model.DirectionUp, model.DirectionDown},
		{"same retracts", model.DirectionDown, model.DirectionDown, model.DirectionNone},
		{"vote again after retract", model.DirectionDown, model.DirectionNone, model.DirectionDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := s.CastVote(ctx, "user:u1", "p1", tt.dir)
			require.NoError(t, err)
			assert.Equal(t, tt.previous, tr.Previous)
			assert.Equal(t, tt.applied, tr.Applied)
		})
	}
}

func TestCastVote_Errors(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	_, err := s.CastVote(ctx, "user:u1", "missing", model.DirectionUp)
	assert.ErrorIs(t, err, model.ErrProductNotFound)

	_, err = s.CastVote(ctx, "user:u1", "p1", model.DirectionNone)
	assert.ErrorIs(t, err, model.ErrInvalidDirection)

	n, _, err := s.CountVoterEvents(ctx, "user:u1", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n, "rejected casts must not be recorded")
}

func TestCastVote_ConcurrentSameVoterKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.CastVote(ctx, "user:u1", "p1", model.DirectionUp)
		}()
	}
	wg.Wait()

	votes, err := s.ProductVotes(ctx, "p1")
	require.NoError(t, err)
	// 50 toggles of the same direction end with no row.
	assert.Empty(t, votes)
}

func TestReconcile_RepairsDrift(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	_, err := s.CastVote(ctx, "user:u1", "p1", model.DirectionUp)
	require.NoError(t, err)
	_, err = s.ApplyDelta(ctx, "p1", model.DirectionNone, model.DirectionUp)
	require.NoError(t, err)

	s.SetCounts("p1", 7, 3)

	res, err := s.Reconcile(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, res.Corrected)
	assert.Equal(t, 1, res.Upvotes)
	assert.Equal(t, 0, res.Downvotes)
	assert.Equal(t, 7, res.StoredUpvotes)

	again, err := s.Reconcile(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, again.Corrected)
	assert.Equal(t, res.Version, again.Version)
}

func TestApplyDelta_FloorsAtZero(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	c, err := s.ApplyDelta(ctx, "p1", model.DirectionUp, model.DirectionNone)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Upvotes)
	assert.Equal(t, int64(1), c.Version)
}

func TestRankingCandidate_RecentWindow(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)

	_, err := s.CastVote(ctx, "user:u1", "p1", model.DirectionUp)
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	_, err = s.CastVote(ctx, "user:u2", "p1", model.DirectionUp)
	require.NoError(t, err)

	c, err := s.RankingCandidate(ctx, "p1", clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, c.RecentVotes)
}

func TestEvents_PrunedAfterRetention(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := NewStore(clock, WithEventRetention(time.Hour))
	s.AddProduct("p1", "Viper Mini")
	s.AddProduct("p2", "Superlight 2")

	for _, p := range []string{"p1", "p2"} {
		_, err := s.CastVote(ctx, "anon:a", p, model.DirectionUp)
		require.NoError(t, err)
	}
	_, err := s.CastVote(ctx, "anon:a", "p1", model.DirectionUp) // toggle off: voter event only
	require.NoError(t, err)
	assert.Equal(t, 5, s.RetainedEvents())

	n, oldest, err := s.CountVoterEvents(ctx, "anon:a", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, clock.Now(), oldest)

	clock.Advance(2 * time.Hour)
	_, err = s.CastVote(ctx, "user:u2", "p1", model.DirectionDown)
	require.NoError(t, err)

	assert.Equal(t, 2, s.RetainedEvents(), "only the new vote's voter and product entries remain")
	n, _, err = s.CountVoterEvents(ctx, "anon:a", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)

	c, err := s.RankingCandidate(ctx, "p2", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, c.RecentVotes)

	votes, err := s.ProductVotes(ctx, "p2")
	require.NoError(t, err)
	assert.Len(t, votes, 1, "pruning history never touches the ledger")
}
