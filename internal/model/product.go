package model

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ProductVoteCounts are the denormalized counters attached to a product.
// Score is always Upvotes - Downvotes. Version increases on every counter
// write and orders delta events for the same product.
type ProductVoteCounts struct {
	ProductID string    `json:"productId"`
	Upvotes   int       `json:"upvotes"`
	Downvotes int       `json:"downvotes"`
	Score     int       `json:"score"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CountsResponse is the API response for GET /vote/counts.
type CountsResponse struct {
	ProductVoteCounts
	RankingScore float64 `json:"rankingScore"`
}

// Delta is the real-time payload emitted after every successful mutation.
type Delta struct {
	ProductID    string    `json:"productId"`
	NewUpvotes   int       `json:"newUpvotes"`
	NewDownvotes int       `json:"newDownvotes"`
	NewScore     int       `json:"newScore"`
	Version      int64     `json:"version"`
	EmittedAt    time.Time `json:"emittedAt"`
}

// DeltaFromCounts builds the broadcast payload for the given counters.
func DeltaFromCounts(c ProductVoteCounts, at time.Time) Delta {
	return Delta{
		ProductID:    c.ProductID,
		NewUpvotes:   c.Upvotes,
		NewDownvotes: c.Downvotes,
		NewScore:     c.Score,
		Version:      c.Version,
		EmittedAt:    at,
	}
}

// ReconcileResult reports the outcome of recounting one product.
type ReconcileResult struct {
	ProductID       string `json:"productId"`
	Upvotes         int    `json:"upvotes"`
	Downvotes       int    `json:"downvotes"`
	Score           int    `json:"score"`
	Corrected       bool   `json:"corrected"`
	StoredUpvotes   int    `json:"storedUpvotes"`
	StoredDownvotes int    `json:"storedDownvotes"`
	Version         int64  `json:"version"`
}

// Counts returns the reconciled counters.
func (r ReconcileResult) Counts() ProductVoteCounts {
	return ProductVoteCounts{
		ProductID: r.ProductID,
		Upvotes:   r.Upvotes,
		Downvotes: r.Downvotes,
		Score:     r.Score,
		Version:   r.Version,
	}
}

// ReconcileRequest is the body of POST /admin/reconcile.
type ReconcileRequest struct {
	ProductID string `json:"productId,omitempty" validate:"omitempty,max=64"`
}

// ReconcileReport is the API response for a reconcile run.
type ReconcileReport struct {
	Checked   int               `json:"checked"`
	Corrected int               `json:"corrected"`
	Details   []ReconcileResult `json:"details"`
}

// SyncResponse is the API response for GET /vote/sync. Clients pass Cursor
// back on their next call.
type SyncResponse struct {
	Products []ProductVoteCounts `json:"products"`
	Cursor   string              `json:"cursor"`
	HasMore  bool                `json:"hasMore"`
}

var ErrInvalidCursor = errors.New("invalid sync cursor")

// SyncCursor is a keyset position in (counts updated at, product id) order.
// The zero cursor precedes every product.
type SyncCursor struct {
	UpdatedAt time.Time
	ProductID string
}

func (c SyncCursor) IsZero() bool {
	return c.UpdatedAt.IsZero() && c.ProductID == ""
}

// After reports whether counts sort strictly after the cursor.
func (c SyncCursor) After(counts ProductVoteCounts) bool {
	if !counts.UpdatedAt.Equal(c.UpdatedAt) {
		return counts.UpdatedAt.After(c.UpdatedAt)
	}
	return counts.ProductID > c.ProductID
}

// CursorAt returns the cursor positioned on counts.
func CursorAt(counts ProductVoteCounts) SyncCursor {
	return SyncCursor{UpdatedAt: counts.UpdatedAt, ProductID: counts.ProductID}
}

// Encode returns the opaque wire form; the zero cursor encodes as "".
func (c SyncCursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	raw := strconv.FormatInt(c.UpdatedAt.UnixNano(), 10) + "|" + c.ProductID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func ParseSyncCursor(s string) (SyncCursor, error) {
	if s == "" {
		return SyncCursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return SyncCursor{}, ErrInvalidCursor
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return SyncCursor{}, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return SyncCursor{}, ErrInvalidCursor
	}
	return SyncCursor{UpdatedAt: time.Unix(0, nanos).UTC(), ProductID: id}, nil
}
