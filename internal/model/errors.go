package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidDirection = errors.New("direction must be up or down")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrProductNotFound  = errors.New("product not found")
	ErrRateLimited      = errors.New("anonymous vote limit reached")
	// ErrLedgerConflict is returned when a ledger write still conflicts after
	// its single internal retry.
	ErrLedgerConflict = errors.New("ledger write conflict")
)

// RateLimitError carries the time at which the caller may vote again.
type RateLimitError struct {
	Limit   int
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("anonymous vote limit of %d reached, resets at %s", e.Limit, e.ResetAt.Format(time.RFC3339))
}

// Is lets errors.Is(err, ErrRateLimited) match a *RateLimitError.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
