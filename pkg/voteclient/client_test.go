package voteclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a minimal stand-in for the vote server with one product.
type fakeAPI struct {
	mu        sync.Mutex
	myVote    Direction
	upvotes   int
	version   int64
	voteDelay time.Duration
	votes     atomic.Int32
	limited   bool
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("POST /vote", func(w http.ResponseWriter, r *http.Request) {
		f.votes.Add(1)
		var req struct {
			ProductID string    `json:"productId"`
			Direction Direction `json:"direction"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		if f.limited {
			f.mu.Unlock()
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": map[string]any{
				"code": "rate_limited", "message": "limit", "resetsAt": "2026-05-05T10:00:00Z",
			}})
			return
		}
		if f.myVote == req.Direction {
			f.myVote = None
			f.upvotes--
		} else {
			f.myVote = req.Direction
			f.upvotes++
		}
		f.version++
		res := VoteResult{AppliedDirection: f.myVote, Upvotes: f.upvotes, Score: f.upvotes, Version: f.version}
		f.mu.Unlock()

		if f.voteDelay > 0 {
			time.Sleep(f.voteDelay)
		}
		writeJSON(w, http.StatusOK, res)
	})
	mux.HandleFunc("GET /vote/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"productId": r.URL.Query().Get("productId"), "appliedDirection": f.myVote})
	})
	mux.HandleFunc("GET /vote/counts", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, Counts{ProductID: "p1", Upvotes: f.upvotes, Score: f.upvotes, Version: f.version})
	})
	mux.HandleFunc("GET /vote/sync", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		page := SyncPage{Products: []Counts{}, Cursor: "MTc3Nzg4ODgwMDAwMDAwMDAwMHxwMQ"}
		if r.URL.Query().Get("cursor") == "" {
			page.Products = append(page.Products, Counts{ProductID: "p1", Upvotes: f.upvotes, Version: f.version})
		}
		writeJSON(w, http.StatusOK, page)
	})
	mux.HandleFunc("POST /vote/identity", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]string{"clientId": "5f0c6a43-9d1e-4f57-8c43-2b1d0f7e9a10"})
	})
	return mux
}

func newFakeServer(t *testing.T, f *fakeAPI) *httptest.Server {
	t.Helper()
	f.myVote = None
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_VoteAndStatus(t *testing.T) {
	api := &fakeAPI{}
	srv := newFakeServer(t, api)
	c := New(srv.URL, WithToken("tok"))
	ctx := context.Background()

	res, err := c.Vote(ctx, "p1", Up)
	require.NoError(t, err)
	assert.Equal(t, Up, res.AppliedDirection)
	assert.Equal(t, 1, res.Upvotes)

	dir, err := c.Status(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, Up, dir)

	counts, err := c.Counts(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Version)
}

func TestClient_EnsureIdentity(t *testing.T) {
	srv := newFakeServer(t, &fakeAPI{})
	c := New(srv.URL)

	id, err := c.EnsureIdentity(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, c.ClientID())
}

func TestClient_TimeoutRefetchesInsteadOfRetrying(t *testing.T) {
	api := &fakeAPI{voteDelay: 400 * time.Millisecond}
	srv := newFakeServer(t, api)
	c := New(srv.URL, WithToken("tok"), WithTimeout(100*time.Millisecond))

	_, err := c.Vote(context.Background(), "p1", Up)
	require.ErrorIs(t, err, ErrOutcomeUnknown)

	var unknown *OutcomeUnknownError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, Up, unknown.Direction, "server applied the vote before the client gave up")
	require.NotNil(t, unknown.Counts)
	assert.Equal(t, 1, unknown.Counts.Upvotes)
	assert.Equal(t, int32(1), api.votes.Load(), "vote must not be resent")
}

func TestClient_RateLimitedAPIError(t *testing.T) {
	api := &fakeAPI{limited: true}
	srv := newFakeServer(t, api)
	c := New(srv.URL, WithClientID("5f0c6a43-9d1e-4f57-8c43-2b1d0f7e9a10"))

	_, err := c.Vote(context.Background(), "p1", Up)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.RateLimited())
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, time.Date(2026, 5, 5, 10, 0, 0, 0, time.UTC), apiErr.ResetsAt.UTC())
}

func TestClient_LocalLimitSkipsNetwork(t *testing.T) {
	api := &fakeAPI{}
	srv := newFakeServer(t, api)
	clock := clockwork.NewFakeClock()
	c := New(srv.URL,
		WithClientID("5f0c6a43-9d1e-4f57-8c43-2b1d0f7e9a10"),
		WithAnonymousLog(NewAnonymousLog(2, time.Hour, clock)),
	)
	ctx := context.Background()

	_, err := c.Vote(ctx, "p1", Up)
	require.NoError(t, err)
	_, err = c.Vote(ctx, "p1", Up)
	require.NoError(t, err)
	_, err = c.Vote(ctx, "p1", Up)
	assert.ErrorIs(t, err, ErrLocalLimit)
	assert.Equal(t, int32(2), api.votes.Load())
}

func TestClient_VoteOptimistic(t *testing.T) {
	api := &fakeAPI{}
	srv := newFakeServer(t, api)
	c := New(srv.URL, WithToken("tok"))
	state := NewOptimisticState("p1", Snapshot{})

	v, err := c.VoteOptimistic(context.Background(), state, Up)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Upvotes: 1, MyVote: Up, Version: 1}, v)

	api.mu.Lock()
	api.limited = true
	api.mu.Unlock()

	v, err = c.VoteOptimistic(context.Background(), state, Down)
	require.Error(t, err)
	assert.Equal(t, Snapshot{Upvotes: 1, MyVote: Up, Version: 1}, v, "rejected vote rolls back")
}

func TestClient_Sync(t *testing.T) {
	srv := newFakeServer(t, &fakeAPI{})
	c := New(srv.URL)
	ctx := context.Background()

	full, err := c.Sync(ctx, "")
	require.NoError(t, err)
	require.Len(t, full.Products, 1)

	next, err := c.Sync(ctx, full.Cursor)
	require.NoError(t, err)
	assert.Empty(t, next.Products)
	assert.False(t, next.HasMore)
}
