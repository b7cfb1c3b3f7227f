package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tierd/tierd-go/internal/model"
)

const (
	DefaultAnonVoteLimit  = 5
	DefaultAnonVoteWindow = 24 * time.Hour
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// EventCounter counts a voter's ledger mutations since a point in time.
type EventCounter interface {
	CountVoterEvents(ctx context.Context, voterID string, since time.Time) (int, time.Time, error)
}

// Limiter is the server-side authority for the anonymous vote cap. It counts
// every ledger mutation (including retractions) an anonymous voter made in
// the rolling window; the client-side log is only a pre-filter.
type Limiter struct {
	events EventCounter
	limit  int
	window time.Duration
	clock  clockwork.Clock
}

func NewLimiter(events EventCounter, limit int, window time.Duration, clock clockwork.Clock) *Limiter {
	if limit <= 0 {
		limit = DefaultAnonVoteLimit
	}
	if window <= 0 {
		window = DefaultAnonVoteWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{events: events, limit: limit, window: window, clock: clock}
}

func (l *Limiter) Limit() int { return l.limit }

// Check reports whether identity may cast another vote now. Authenticated
// identities are never capped.
func (l *Limiter) Check(ctx context.Context, identity model.VoterIdentity) (Decision, error) {
	now := l.clock.Now()
	if !identity.Anonymous {
		return Decision{Allowed: true, Limit: -1, Remaining: -1, ResetAt: now}, nil
	}

	count, oldest, err := l.events.CountVoterEvents(ctx, identity.Key(), now.Add(-l.window))
	if err != nil {
		return Decision{}, fmt.Errorf("count voter events: %w", err)
	}

	d := Decision{
		Allowed:   count < l.limit,
		Limit:     l.limit,
		Remaining: max(l.limit-count, 0),
		ResetAt:   now,
	}
	if count > 0 {
		d.ResetAt = oldest.Add(l.window)
	}
	return d, nil
}

// Remaining reports the caller's remaining anonymous quota. An unparseable
// client id has none left.
func (l *Limiter) Remaining(ctx context.Context, clientID string) (model.RemainingResponse, error) {
	identity, ok := ResolveAnonymous(clientID)
	if !ok {
		return model.RemainingResponse{Remaining: 0, Limit: l.limit, WindowResetsAt: l.clock.Now()}, nil
	}
	d, err := l.Check(ctx, identity)
	if err != nil {
		return model.RemainingResponse{}, err
	}
	return model.RemainingResponse{Remaining: d.Remaining, Limit: d.Limit, WindowResetsAt: d.ResetAt}, nil
}
