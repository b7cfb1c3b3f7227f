package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tierd/tierd-go/internal/logger"
	"github.com/tierd/tierd-go/internal/metrics"
	"github.com/tierd/tierd-go/internal/model"
)

// CastRequest is a validated vote from the transport layer. Exactly one of
// UserID and ClientID identifies the voter; UserID wins when both are set.
type CastRequest struct {
	ProductID string
	Direction model.Direction
	UserID    string
	ClientID  string
}

// VoteService runs the vote pipeline: identity, rate limit, ledger, counters,
// cache invalidation, then fire-and-forget propagation.
type VoteService struct {
	ledger   Ledger
	agg      *AggregateService
	limiter  *Limiter
	rankings *RankingService
	pub      Publisher
	clock    clockwork.Clock
	log      zerolog.Logger
}

func NewVoteService(ledger Ledger, agg *AggregateService, limiter *Limiter, rankings *RankingService, pub Publisher, clock clockwork.Clock) *VoteService {
	if pub == nil {
		pub = nopPublisher{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &VoteService{
		ledger:   ledger,
		agg:      agg,
		limiter:  limiter,
		rankings: rankings,
		pub:      pub,
		clock:    clock,
		log:      logger.Component("votes"),
	}
}

// Identify resolves the voter for a request. An anonymous caller with a
// missing or malformed client id gets a *RateLimitError: such callers can
// never vote.
func (s *VoteService) Identify(userID, clientID string) (model.VoterIdentity, error) {
	if userID != "" {
		return ResolveUser(userID), nil
	}
	identity, ok := ResolveAnonymous(clientID)
	if !ok {
		return model.VoterIdentity{}, &model.RateLimitError{Limit: s.limiter.Limit(), ResetAt: s.clock.Now()}
	}
	return identity, nil
}

// Cast applies one vote with toggle semantics and returns the authoritative
// counts for the product.
func (s *VoteService) Cast(ctx context.Context, req CastRequest) (*model.VoteResponse, error) {
	if !req.Direction.Valid() {
		return nil, model.ErrInvalidDirection
	}
	if req.ProductID == "" {
		return nil, fmt.Errorf("%w: productId is required", model.ErrInvalidRequest)
	}

	identity, err := s.Identify(req.UserID, req.ClientID)
	if err != nil {
		metrics.RateLimited.Inc()
		return nil, err
	}

	decision, err := s.limiter.Check(ctx, identity)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		metrics.RateLimited.Inc()
		return nil, &model.RateLimitError{Limit: decision.Limit, ResetAt: decision.ResetAt}
	}

	t, err := s.ledger.CastVote(ctx, identity.Key(), req.ProductID, req.Direction)
	if err != nil {
		if errors.Is(err, model.ErrLedgerConflict) {
			metrics.LedgerConflicts.Inc()
		}
		return nil, err
	}

	voterKind := "user"
	if identity.Anonymous {
		voterKind = "anon"
	}
	metrics.VotesTotal.WithLabelValues(string(t.Applied), voterKind).Inc()

	counts, err := s.agg.ApplyDelta(ctx, req.ProductID, t.Previous, t.Applied)
	if err != nil {
		// The ledger already committed; recount so the response stays authoritative.
		s.log.Error().Err(err).Str("product_id", req.ProductID).Msg("apply delta failed, reconciling")
		res, rerr := s.agg.Reconcile(ctx, req.ProductID)
		if rerr != nil {
			return nil, fmt.Errorf("apply delta: %w", errors.Join(err, rerr))
		}
		counts = res.Counts()
	}

	s.rankings.Invalidate(ctx, req.ProductID)
	s.pub.Publish(model.DeltaFromCounts(counts, s.clock.Now()))

	return &model.VoteResponse{
		AppliedDirection: t.Applied,
		Upvotes:          counts.Upvotes,
		Downvotes:        counts.Downvotes,
		Score:            counts.Score,
		Version:          counts.Version,
	}, nil
}

// Status returns the voter's current direction on a product. Unresolvable
// anonymous ids have no votes.
func (s *VoteService) Status(ctx context.Context, productID, userID, clientID string) (*model.StatusResponse, error) {
	resp := &model.StatusResponse{ProductID: productID, AppliedDirection: model.DirectionNone}

	identity, err := s.Identify(userID, clientID)
	if err != nil {
		return resp, nil
	}
	dir, err := s.ledger.VoteStatus(ctx, identity.Key(), productID)
	if err != nil {
		return nil, err
	}
	resp.AppliedDirection = dir
	return resp, nil
}

// Counts returns the stored counters plus the current ranking score.
func (s *VoteService) Counts(ctx context.Context, productID string) (*model.CountsResponse, error) {
	counts, err := s.agg.Counts(ctx, productID)
	if err != nil {
		return nil, err
	}
	score, err := s.rankings.ProductScore(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &model.CountsResponse{ProductVoteCounts: counts, RankingScore: score}, nil
}

// Remaining reports an anonymous caller's remaining quota.
func (s *VoteService) Remaining(ctx context.Context, clientID string) (model.RemainingResponse, error) {
	return s.limiter.Remaining(ctx, clientID)
}
