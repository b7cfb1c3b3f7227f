package service

import (
	"context"

	"github.com/tierd/tierd-go/internal/model"
)

const (
	DefaultSyncLimit = 500
	MaxSyncLimit     = 1000
)

// SyncService lets clients catch up on counters they may have missed on the
// real-time stream. A zero cursor returns every product (full sync).
type SyncService struct {
	counters CounterStore
}

func NewSyncService(counters CounterStore) *SyncService {
	return &SyncService{counters: counters}
}

// Changes returns counters positioned after the cursor, oldest first. The
// cursor is keyed on (update time, product id), so rows sharing a timestamp
// are split across pages without being skipped.
func (s *SyncService) Changes(ctx context.Context, after model.SyncCursor, limit int) (*model.SyncResponse, error) {
	if limit <= 0 {
		limit = DefaultSyncLimit
	}
	limit = min(limit, MaxSyncLimit)

	rows, err := s.counters.ChangedSince(ctx, after, limit+1)
	if err != nil {
		return nil, err
	}

	resp := &model.SyncResponse{Products: rows, Cursor: after.Encode()}
	if len(rows) > limit {
		resp.HasMore = true
		resp.Products = rows[:limit]
	}
	if n := len(resp.Products); n > 0 {
		resp.Cursor = model.CursorAt(resp.Products[n-1]).Encode()
	}
	if resp.Products == nil {
		resp.Products = []model.ProductVoteCounts{}
	}
	return resp, nil
}
