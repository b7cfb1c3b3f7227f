package model

import (
	"strings"
	"time"
)

// Direction is the side a voter took on a product. DirectionNone means the
// voter currently holds no vote.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionNone Direction = "none"
)

// ParseDirection accepts "up" or "down" (case-insensitive). Anything else,
// including "none", is rejected with ErrInvalidDirection.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionUp:
		return DirectionUp, nil
	case DirectionDown:
		return DirectionDown, nil
	}
	return "", ErrInvalidDirection
}

// Opposite returns the other side of an up/down vote. None stays none.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionUp:
		return DirectionDown
	case DirectionDown:
		return DirectionUp
	}
	return DirectionNone
}

// Valid reports whether d is a castable direction.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// CounterDelta returns the upvote and downvote adjustments for a ledger
// transition from previous to next.
func CounterDelta(previous, next Direction) (dUp, dDown int) {
	switch previous {
	case DirectionUp:
		dUp--
	case DirectionDown:
		dDown--
	}
	switch next {
	case DirectionUp:
		dUp++
	case DirectionDown:
		dDown++
	}
	return dUp, dDown
}

// VoterIdentity is either an authenticated user id or an anonymous client id.
type VoterIdentity struct {
	ID        string
	Anonymous bool
}

// Key is the ledger key for the identity. The prefixes keep authenticated and
// anonymous namespaces from ever colliding.
func (v VoterIdentity) Key() string {
	if v.Anonymous {
		return "anon:" + v.ID
	}
	return "user:" + v.ID
}

// Vote represents a single ledger row.
type Vote struct {
	VoterID   string    `json:"voterId"`
	ProductID string    `json:"productId"`
	Direction Direction `json:"direction"`
	CastAt    time.Time `json:"castAt"`
}

// Transition describes what a CastVote call did to the ledger.
type Transition struct {
	Requested Direction
	Previous  Direction
	Applied   Direction
}

// VoteEvent is an append-only history record of a ledger mutation.
type VoteEvent struct {
	VoterID   string
	ProductID string
	Previous  Direction
	Applied   Direction
	At        time.Time
}

// VoteRequest is the API request body for POST /vote.
type VoteRequest struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	Direction string `json:"direction" validate:"required"`
	VoterID   string `json:"voterId,omitempty" validate:"omitempty,max=64"`
	ClientID  string `json:"clientId,omitempty"`
}

// VoteResponse is the API response after a successful vote mutation.
type VoteResponse struct {
	AppliedDirection Direction `json:"appliedDirection"`
	Upvotes          int       `json:"upvotes"`
	Downvotes        int       `json:"downvotes"`
	Score            int       `json:"score"`
	Version          int64     `json:"version"`
}

// StatusResponse is the API response for GET /vote/status.
type StatusResponse struct {
	ProductID        string    `json:"productId"`
	AppliedDirection Direction `json:"appliedDirection"`
}

// RemainingResponse is the API response for GET /vote/remaining.
type RemainingResponse struct {
	Remaining      int       `json:"remaining"`
	Limit          int       `json:"limit"`
	WindowResetsAt time.Time `json:"windowResetsAt"`
}

// IdentityResponse is returned when a new anonymous client id is issued.
type IdentityResponse struct {
	ClientID string `json:"clientId"`
}
