package service

import (
	"context"
	"time"

	"github.com/tierd/tierd-go/internal/model"
)

// Ledger is the authoritative record of one vote per (voter, product).
// Implemented by repository.VoteRepo and memory.Store.
type Ledger interface {
	CastVote(ctx context.Context, voterID, productID string, dir model.Direction) (model.Transition, error)
	VoteStatus(ctx context.Context, voterID, productID string) (model.Direction, error)
	CountVoterEvents(ctx context.Context, voterID string, since time.Time) (int, time.Time, error)
}

// CounterStore holds the denormalized per-product counters derived from the
// ledger. Implemented by repository.ProductRepo and memory.Store.
type CounterStore interface {
	ApplyDelta(ctx context.Context, productID string, previous, next model.Direction) (model.ProductVoteCounts, error)
	Counts(ctx context.Context, productID string) (model.ProductVoteCounts, error)
	Reconcile(ctx context.Context, productID string) (model.ReconcileResult, error)
	ListProductIDs(ctx context.Context) ([]string, error)
	RankingCandidate(ctx context.Context, productID string, since time.Time) (model.RankingCandidate, error)
	RankingCandidates(ctx context.Context, since time.Time) ([]model.RankingCandidate, error)
	ChangedSince(ctx context.Context, after model.SyncCursor, limit int) ([]model.ProductVoteCounts, error)
}

// Publisher hands a delta to the propagation layer. It must not block and
// cannot fail the caller.
type Publisher interface {
	Publish(delta model.Delta)
}

type nopPublisher struct{}

func (nopPublisher) Publish(model.Delta) {}
