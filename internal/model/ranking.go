package model

import (
	"errors"
	"time"
)

// RankingInput holds the signals the ranking algorithm scores. It is computed
// on demand and never persisted.
type RankingInput struct {
	Upvotes     int
	Downvotes   int
	RecentVotes int
	// SinceActivity is the time elapsed since the product's last vote (or
	// creation, when it has never been voted on).
	SinceActivity time.Duration
	// Controversy is 1 - |0.5 - upvoteRatio|*2: 1 for an even split, 0 when
	// every vote points the same way.
	Controversy float64
}

// Validate rejects inputs that can only come from a programming error.
func (in RankingInput) Validate() error {
	if in.Upvotes < 0 || in.Downvotes < 0 || in.RecentVotes < 0 {
		return errors.New("ranking input: negative vote count")
	}
	if in.Controversy < 0 || in.Controversy > 1 {
		return errors.New("ranking input: controversy out of [0,1]")
	}
	return nil
}

// RankingCandidate is one product's raw ranking data as read from the store.
type RankingCandidate struct {
	ProductID    string
	Name         string
	Upvotes      int
	Downvotes    int
	RecentVotes  int
	LastActivity time.Time
}

// ScoredProduct pairs a product with its ranking score before ordering.
type ScoredProduct struct {
	ProductID string
	Name      string
	Score     float64
	Upvotes   int
	Downvotes int
}

// RankedProduct is a product's position in the community ranking.
type RankedProduct struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name,omitempty"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
	Upvotes   int     `json:"upvotes"`
	Downvotes int     `json:"downvotes"`
}

// RankingsResponse is the API response for GET /rankings.
type RankingsResponse struct {
	Products    []RankedProduct `json:"products"`
	GeneratedAt time.Time       `json:"generatedAt"`
}
