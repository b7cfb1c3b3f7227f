package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tierd/tierd-go/internal/logger"
	"github.com/tierd/tierd-go/internal/model"
)

const (
	DefaultRankingsLimit = 50
	MaxRankingsLimit     = 500
)

// RankingService computes ranking scores through the in-process score cache
// and serves leaderboards through the Redis board cache.
type RankingService struct {
	counters CounterStore
	ranker   *Ranker
	cache    *RankingCache
	board    *CacheService
	clock    clockwork.Clock
	log      zerolog.Logger
}

// NewRankingService builds the service and its score cache. cacheTTL <= 0
// disables score caching. board may be nil.
func NewRankingService(counters CounterStore, ranker *Ranker, board *CacheService, cacheTTL time.Duration, clock clockwork.Clock) *RankingService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if board == nil {
		board = &CacheService{}
	}
	s := &RankingService{
		counters: counters,
		ranker:   ranker,
		board:    board,
		clock:    clock,
		log:      logger.Component("ranking"),
	}
	s.cache = NewRankingCache(s.computeScore, cacheTTL, clock)
	return s
}

// Cache exposes the score cache (for tests and the reconcile sweep).
func (s *RankingService) Cache() *RankingCache {
	return s.cache
}

// ProductScore returns a product's ranking score.
func (s *RankingService) ProductScore(ctx context.Context, productID string) (float64, error) {
	return s.cache.GetScore(ctx, productID)
}

func (s *RankingService) computeScore(ctx context.Context, productID string) (float64, error) {
	now := s.clock.Now()
	c, err := s.counters.RankingCandidate(ctx, productID, now.Add(-s.ranker.Params().RecentWindow))
	if err != nil {
		return 0, err
	}
	return s.ranker.Score(s.ranker.Input(c, now)), nil
}

// Rankings returns the top limit products.
func (s *RankingService) Rankings(ctx context.Context, limit int) (*model.RankingsResponse, error) {
	if limit <= 0 {
		limit = DefaultRankingsLimit
	}
	limit = min(limit, MaxRankingsLimit)

	cached, gen, err := s.board.GetRankings(ctx, limit)
	if err != nil {
		s.log.Warn().Err(err).Msg("leaderboard cache read failed")
	}
	if cached != nil {
		return cached, nil
	}
	boardOK := err == nil

	// Taken before the candidates are read so a vote landing in between
	// voids the stores below.
	token := s.cache.Token()
	now := s.clock.Now()
	candidates, err := s.counters.RankingCandidates(ctx, now.Add(-s.ranker.Params().RecentWindow))
	if err != nil {
		return nil, fmt.Errorf("load ranking candidates: %w", err)
	}

	scored := make([]model.ScoredProduct, 0, len(candidates))
	for _, c := range candidates {
		score, ok := s.cache.Peek(c.ProductID)
		if !ok {
			score = s.ranker.Score(s.ranker.Input(c, now))
			s.cache.Store(c.ProductID, score, token)
		}
		scored = append(scored, model.ScoredProduct{
			ProductID: c.ProductID,
			Name:      c.Name,
			Score:     score,
			Upvotes:   c.Upvotes,
			Downvotes: c.Downvotes,
		})
	}

	ranked := s.ranker.Rank(scored)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	resp := &model.RankingsResponse{Products: ranked, GeneratedAt: now}

	if boardOK {
		if err := s.board.SetRankings(ctx, gen, limit, resp); err != nil {
			s.log.Warn().Err(err).Msg("leaderboard cache write failed")
		}
	}
	return resp, nil
}

// Invalidate drops cached state for one product after a vote mutation.
func (s *RankingService) Invalidate(ctx context.Context, productID string) {
	s.cache.Invalidate(productID)
	if err := s.board.InvalidateRankings(ctx); err != nil {
		s.log.Warn().Err(err).Str("product_id", productID).Msg("leaderboard cache invalidate failed")
	}
}

// InvalidateAll drops every cached score and leaderboard.
func (s *RankingService) InvalidateAll(ctx context.Context) {
	s.cache.InvalidateAll()
	if err := s.board.InvalidateRankings(ctx); err != nil {
		s.log.Warn().Err(err).Msg("leaderboard cache invalidate failed")
	}
}
