package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierd/tierd-go/internal/model"
)

func TestRankingCache_TTLAndInvalidation(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := 0
	cache := NewRankingCache(func(context.Context, string) (float64, error) {
		calls++
		return float64(calls), nil
	}, 5*time.Minute, clock)
	ctx := context.Background()

	s, err := cache.GetScore(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, s)

	s, _ = cache.GetScore(ctx, "p1")
	assert.Equal(t, 1.0, s, "second read should hit")

	clock.Advance(5 * time.Minute)
	s, _ = cache.GetScore(ctx, "p1")
	assert.Equal(t, 2.0, s, "expired entry should recompute")

	cache.Invalidate("p1")
	s, _ = cache.GetScore(ctx, "p1")
	assert.Equal(t, 3.0, s)

	_, _ = cache.GetScore(ctx, "p2")
	cache.InvalidateAll()
	assert.Zero(t, cache.Len())
}

func TestRankingCache_DisabledAlwaysRecomputes(t *testing.T) {
	calls := 0
	cache := NewRankingCache(func(context.Context, string) (float64, error) {
		calls++
		return 0.5, nil
	}, 0, clockwork.NewFakeClock())

	for i := 0; i < 3; i++ {
		_, err := cache.GetScore(context.Background(), "p1")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
	assert.False(t, cache.Enabled())
}

func TestRankingCache_LoaderErrorNotCached(t *testing.T) {
	fail := true
	cache := NewRankingCache(func(context.Context, string) (float64, error) {
		if fail {
			return 0, errors.New("db down")
		}
		return 0.7, nil
	}, time.Minute, clockwork.NewFakeClock())

	_, err := cache.GetScore(context.Background(), "p1")
	require.Error(t, err)

	fail = false
	s, err := cache.GetScore(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 0.7, s)
}

// Enabled and disabled caches must produce identical observable results for
// the same sequence of votes and reads.
func TestRankingCache_Transparency(t *testing.T) {
	type step struct {
		user string
		prod string
		dir  model.Direction
	}
	steps := []step{
		{"u1", "p1", model.DirectionUp},
		{"u2", "p1", model.DirectionUp},
		{"u3", "p2", model.DirectionDown},
		{"u1", "p1", model.DirectionDown},
		{"u4", "p2", model.DirectionUp},
		{"u2", "p1", model.DirectionUp},
		{"u5", "p2", model.DirectionUp},
	}

	run := func(ttl time.Duration) []string {
		f := newFixture(t, ttl)
		ctx := context.Background()
		var out []string
		for _, s := range steps {
			f.cast(t, s.user, s.prod, s.dir)
			for _, p := range []string{"p1", "p2"} {
				c, err := f.votes.Counts(ctx, p)
				require.NoError(t, err)
				out = append(out, fmt.Sprintf("%s:%d/%d:%.12f", p, c.Upvotes, c.Downvotes, c.RankingScore))
			}
			board, err := f.rankings.Rankings(ctx, 10)
			require.NoError(t, err)
			for _, r := range board.Products {
				out = append(out, fmt.Sprintf("#%d %s %.12f", r.Rank, r.ProductID, r.Score))
			}
		}
		return out
	}

	enabled := run(5 * time.Minute)
	disabled := run(0)
	if diff := cmp.Diff(disabled, enabled); diff != "" {
		t.Errorf("cache changed results (-disabled +enabled):\n%s", diff)
	}
}

func TestRankings_RedisBoardCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	board := NewCacheServiceWithClient(rdb, time.Minute)
	defer board.Close()

	f := newFixture(t, time.Minute)
	f.rankings = NewRankingService(f.store, NewRanker(DefaultRankingParams()), board, time.Minute, f.clock)
	f.votes = NewVoteService(f.store, f.agg, f.limiter, f.rankings, f.pub, f.clock)
	ctx := context.Background()

	f.cast(t, "u1", "p2", model.DirectionUp)

	first, err := f.rankings.Rankings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first.Products, 2)
	assert.Equal(t, "p2", first.Products[0].ProductID)

	cached, gen, err := board.GetRankings(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, first.Products, cached.Products)
	assert.True(t, mr.Exists(boardKey(gen)))

	// Votes move the board to a new generation.
	f.cast(t, "u1", "p1", model.DirectionUp)
	f.cast(t, "u2", "p1", model.DirectionUp)
	assert.False(t, mr.Exists(boardKey(gen)))
	missed, next, err := board.GetRankings(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, missed)
	assert.Equal(t, gen+2, next)

	second, err := f.rankings.Rankings(ctx, 1)
	require.NoError(t, err)
	require.Len(t, second.Products, 1)
	assert.Equal(t, "p1", second.Products[0].ProductID)
	assert.Equal(t, 1, second.Products[0].Rank)
}

func TestCacheService_NilClientIsNoop(t *testing.T) {
	c := &CacheService{}
	ctx := context.Background()
	got, _, err := c.GetRankings(ctx, 10)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, c.SetRankings(ctx, 0, 10, &model.RankingsResponse{}))
	assert.NoError(t, c.InvalidateRankings(ctx))
	assert.NoError(t, c.Close())
}

func TestCacheService_BoardBuiltBeforeInvalidateIsNeverServed(t *testing.T) {
	mr := miniredis.RunT(t)
	board := NewCacheServiceWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	defer board.Close()
	ctx := context.Background()

	miss, gen, err := board.GetRankings(ctx, 10)
	require.NoError(t, err)
	require.Nil(t, miss)

	// A vote lands while the board is being built.
	require.NoError(t, board.InvalidateRankings(ctx))
	stale := &model.RankingsResponse{Products: []model.RankedProduct{{ProductID: "p1", Rank: 1}}}
	require.NoError(t, board.SetRankings(ctx, gen, 10, stale))

	got, next, err := board.GetRankings(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, gen+1, next)
}

func TestRankingCache_InvalidateDuringLoadDropsStaleScore(t *testing.T) {
	var (
		mu      sync.Mutex
		current = 0.1
		blocked = true
	)
	started := make(chan struct{})
	release := make(chan struct{})
	cache := NewRankingCache(func(context.Context, string) (float64, error) {
		mu.Lock()
		v, block := current, blocked
		blocked = false
		mu.Unlock()
		if block {
			close(started)
			<-release
		}
		return v, nil
	}, 5*time.Minute, clockwork.NewFakeClock())
	ctx := context.Background()

	done := make(chan float64, 1)
	go func() {
		s, _ := cache.GetScore(ctx, "p1")
		done <- s
	}()
	<-started

	mu.Lock()
	current = 0.9
	mu.Unlock()
	cache.Invalidate("p1")
	close(release)
	assert.Equal(t, 0.1, <-done, "the in-flight caller keeps what it read")

	_, ok := cache.Peek("p1")
	assert.False(t, ok, "score loaded before the invalidation must not be stored")

	s, err := cache.GetScore(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0.9, s)
}

func TestRankingCache_StoreAfterInvalidateAllIsDropped(t *testing.T) {
	cache := NewRankingCache(func(context.Context, string) (float64, error) { return 0, nil }, time.Minute, clockwork.NewFakeClock())

	token := cache.Token()
	cache.InvalidateAll()
	assert.False(t, cache.Store("p1", 0.4, token))
	_, ok := cache.Peek("p1")
	assert.False(t, ok)

	token = cache.Token()
	cache.Invalidate("p2")
	assert.True(t, cache.Store("p1", 0.5, token), "other products do not void the token")
	got, ok := cache.Peek("p1")
	require.True(t, ok)
	assert.Equal(t, 0.5, got)
}
