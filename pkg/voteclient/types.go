// Package voteclient is a Go client for the tierd vote API. Besides the
// HTTP calls it carries the client side of the voting contract: the
// anonymous courtesy log and optimistic count state with rollback.
package voteclient

import (
	"errors"
	"fmt"
	"time"
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
	None Direction = "none"
)

var (
	// ErrOutcomeUnknown means a vote request timed out and the server may or
	// may not have applied it. Never resend a vote after this error: a
	// second toggle could undo the first. Use the refreshed state instead.
	ErrOutcomeUnknown = errors.New("vote outcome unknown")
	// ErrLocalLimit means the anonymous log already holds the maximum number
	// of votes for the window. No request was sent.
	ErrLocalLimit = errors.New("anonymous vote limit reached locally")
	// ErrVotePending is returned when an optimistic vote is already in flight
	// for the product.
	ErrVotePending = errors.New("a vote is already pending for this product")
)

// VoteResult is the authoritative state returned after a vote mutation.
type VoteResult struct {
	AppliedDirection Direction `json:"appliedDirection"`
	Upvotes          int       `json:"upvotes"`
	Downvotes        int       `json:"downvotes"`
	Score            int       `json:"score"`
	Version          int64     `json:"version"`
}

type Counts struct {
	ProductID    string    `json:"productId"`
	Upvotes      int       `json:"upvotes"`
	Downvotes    int       `json:"downvotes"`
	Score        int       `json:"score"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updatedAt"`
	RankingScore float64   `json:"rankingScore"`
}

type Remaining struct {
	Remaining      int       `json:"remaining"`
	Limit          int       `json:"limit"`
	WindowResetsAt time.Time `json:"windowResetsAt"`
}

// Delta is one real-time update as carried on the stream.
type Delta struct {
	ProductID    string    `json:"productId"`
	NewUpvotes   int       `json:"newUpvotes"`
	NewDownvotes int       `json:"newDownvotes"`
	NewScore     int       `json:"newScore"`
	Version      int64     `json:"version"`
	EmittedAt    time.Time `json:"emittedAt"`
}

type RankedProduct struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name,omitempty"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
	Upvotes   int     `json:"upvotes"`
	Downvotes int     `json:"downvotes"`
}

type Rankings struct {
	Products    []RankedProduct `json:"products"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

// SyncPage is one page of counters changed after a cursor. Cursor is opaque;
// pass it back unchanged.
type SyncPage struct {
	Products []Counts `json:"products"`
	Cursor   string   `json:"cursor"`
	HasMore  bool     `json:"hasMore"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status   int
	Code     string
	Message  string
	ResetsAt time.Time
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vote api: %d %s: %s", e.Status, e.Code, e.Message)
}

// RateLimited reports whether the server rejected an anonymous vote for
// exceeding its allowance.
func (e *APIError) RateLimited() bool {
	return e.Code == "rate_limited"
}

// OutcomeUnknownError carries the state fetched after a timed-out vote. Either
// refreshed field may be nil when its own fetch failed.
type OutcomeUnknownError struct {
	ProductID string
	Direction Direction
	Counts    *Counts
	Err       error
}

func (e *OutcomeUnknownError) Error() string {
	return fmt.Sprintf("vote on %s: outcome unknown (now %s): %v", e.ProductID, e.Direction, e.Err)
}

func (e *OutcomeUnknownError) Is(target error) bool { return target == ErrOutcomeUnknown }

func (e *OutcomeUnknownError) Unwrap() error { return e.Err }
