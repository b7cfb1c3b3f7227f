// Package memory is an in-process ledger and counter store with the same
// semantics as the Postgres repositories. It backs STORE_DRIVER=memory and the
// service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tierd/tierd-go/internal/model"
)

type voteKey struct {
	voter   string
	product string
}

type product struct {
	name         string
	createdAt    time.Time
	lastVoteAt   time.Time
	upvotes      int
	downvotes    int
	version      int64
	countsUpdate time.Time
}

// DefaultEventRetention covers the default anonymous and recent-vote windows.
const DefaultEventRetention = 24 * time.Hour

// Store guards every table with a single mutex, so each call is one
// serializable transaction.
//
// Vote history is kept only as event times, indexed per voter and per product
// (applied votes only), and dropped once older than the retention. Queries
// looking further back than the retention undercount.
type Store struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	products map[string]*product
	votes    map[voteKey]model.Vote

	retention  time.Duration
	byVoter    map[string][]time.Time
	byProduct  map[string][]time.Time
	lastSweep  time.Time
	eventCount int
}

type Option func(*Store)

// WithEventRetention sets how long vote events are kept. It must cover the
// anonymous limit window and the ranking recent window.
func WithEventRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

func NewStore(clock clockwork.Clock, opts ...Option) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Store{
		clock:     clock,
		products:  make(map[string]*product),
		votes:     make(map[voteKey]model.Vote),
		retention: DefaultEventRetention,
		byVoter:   make(map[string][]time.Time),
		byProduct: make(map[string][]time.Time),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddProduct registers a product with zeroed counters. Re-adding keeps counters.
func (s *Store) AddProduct(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[id]; ok {
		p.name = name
		return
	}
	now := s.clock.Now()
	s.products[id] = &product{name: name, createdAt: now, countsUpdate: now}
}

// Upsert matches ProductRepo.Upsert.
func (s *Store) Upsert(_ context.Context, id, name string) error {
	s.AddProduct(id, name)
	return nil
}

func (s *Store) CastVote(_ context.Context, voterID, productID string, dir model.Direction) (model.Transition, error) {
	if !dir.Valid() {
		return model.Transition{}, model.ErrInvalidDirection
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return model.Transition{}, model.ErrProductNotFound
	}

	now := s.clock.Now()
	key := voteKey{voter: voterID, product: productID}
	t := model.Transition{Requested: dir}

	existing, ok := s.votes[key]
	switch {
	case !ok:
		s.votes[key] = model.Vote{VoterID: voterID, ProductID: productID, Direction: dir, CastAt: now}
		t.Previous, t.Applied = model.DirectionNone, dir
	case existing.Direction == dir:
		delete(s.votes, key)
		t.Previous, t.Applied = dir, model.DirectionNone
	default:
		existing.Direction, existing.CastAt = dir, now
		s.votes[key] = existing
		t.Previous, t.Applied = dir.Opposite(), dir
	}

	s.recordLocked(voterID, productID, t.Applied, now)
	return t, nil
}

func (s *Store) recordLocked(voterID, productID string, applied model.Direction, now time.Time) {
	cutoff := now.Add(-s.retention)
	s.appendLocked(s.byVoter, voterID, cutoff, now)
	if applied != model.DirectionNone {
		s.appendLocked(s.byProduct, productID, cutoff, now)
	}
	if now.Sub(s.lastSweep) >= s.retention/24 {
		s.sweepLocked(cutoff)
		s.lastSweep = now
	}
}

func (s *Store) appendLocked(idx map[string][]time.Time, key string, cutoff, now time.Time) {
	times := idx[key]
	kept := trimBefore(times, cutoff)
	s.eventCount += len(kept) - len(times) + 1
	idx[key] = append(kept, now)
}

// sweepLocked drops expired events for keys that have gone quiet.
func (s *Store) sweepLocked(cutoff time.Time) {
	n := 0
	for _, idx := range []map[string][]time.Time{s.byVoter, s.byProduct} {
		for k, times := range idx {
			times = trimBefore(times, cutoff)
			if len(times) == 0 {
				delete(idx, k)
				continue
			}
			idx[k] = times
			n += len(times)
		}
	}
	s.eventCount = n
}

// trimBefore drops the leading times not after cutoff. times is ascending.
func trimBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := firstAfter(times, cutoff)
	if i == 0 {
		return times
	}
	return append(times[:0:0], times[i:]...)
}

func firstAfter(times []time.Time, t time.Time) int {
	return sort.Search(len(times), func(i int) bool { return times[i].After(t) })
}

// RetainedEvents reports how many indexed event times are held.
func (s *Store) RetainedEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventCount
}

func (s *Store) VoteStatus(_ context.Context, voterID, productID string) (model.Direction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.votes[voteKey{voter: voterID, product: productID}]; ok {
		return v.Direction, nil
	}
	return model.DirectionNone, nil
}

func (s *Store) CountVoterEvents(_ context.Context, voterID string, since time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	times := s.byVoter[voterID]
	i := firstAfter(times, since)
	if i == len(times) {
		return 0, time.Time{}, nil
	}
	return len(times) - i, times[i], nil
}

// ProductVotes returns the ledger rows for a product ordered by voter.
func (s *Store) ProductVotes(_ context.Context, productID string) ([]model.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Vote
	for k, v := range s.votes {
		if k.product == productID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoterID < out[j].VoterID })
	return out, nil
}

func (s *Store) ApplyDelta(_ context.Context, productID string, previous, next model.Direction) (model.ProductVoteCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return model.ProductVoteCounts{}, model.ErrProductNotFound
	}
	dUp, dDown := model.CounterDelta(previous, next)
	p.upvotes = max(p.upvotes+dUp, 0)
	p.downvotes = max(p.downvotes+dDown, 0)
	p.version++
	now := s.clock.Now()
	p.lastVoteAt = now
	p.countsUpdate = now
	return p.counts(productID), nil
}

func (s *Store) Counts(_ context.Context, productID string) (model.ProductVoteCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return model.ProductVoteCounts{}, model.ErrProductNotFound
	}
	return p.counts(productID), nil
}

func (s *Store) Reconcile(_ context.Context, productID string) (model.ReconcileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := model.ReconcileResult{ProductID: productID}
	p, ok := s.products[productID]
	if !ok {
		return res, model.ErrProductNotFound
	}
	res.StoredUpvotes, res.StoredDownvotes = p.upvotes, p.downvotes

	for k, v := range s.votes {
		if k.product != productID {
			continue
		}
		switch v.Direction {
		case model.DirectionUp:
			res.Upvotes++
		case model.DirectionDown:
			res.Downvotes++
		}
	}
	res.Score = res.Upvotes - res.Downvotes

	if p.upvotes != res.Upvotes || p.downvotes != res.Downvotes {
		p.upvotes, p.downvotes = res.Upvotes, res.Downvotes
		p.version++
		p.countsUpdate = s.clock.Now()
		res.Corrected = true
	}
	res.Version = p.version
	return res, nil
}

func (s *Store) ListProductIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) RankingCandidate(_ context.Context, productID string, since time.Time) (model.RankingCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return model.RankingCandidate{}, model.ErrProductNotFound
	}
	return s.candidateLocked(productID, p, since), nil
}

func (s *Store) RankingCandidates(_ context.Context, since time.Time) ([]model.RankingCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.RankingCandidate, 0, len(s.products))
	for id, p := range s.products {
		out = append(out, s.candidateLocked(id, p, since))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *Store) candidateLocked(id string, p *product, since time.Time) model.RankingCandidate {
	c := model.RankingCandidate{
		ProductID:    id,
		Name:         p.name,
		Upvotes:      p.upvotes,
		Downvotes:    p.downvotes,
		LastActivity: p.createdAt,
	}
	if !p.lastVoteAt.IsZero() {
		c.LastActivity = p.lastVoteAt
	}
	times := s.byProduct[id]
	c.RecentVotes = len(times) - firstAfter(times, since)
	return c
}

func (s *Store) ChangedSince(_ context.Context, after model.SyncCursor, limit int) ([]model.ProductVoteCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ProductVoteCounts
	for id, p := range s.products {
		if c := p.counts(id); after.After(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ProductID < out[j].ProductID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetCounts overwrites the stored counters without touching the ledger.
// Tests use it to simulate drift.
func (s *Store) SetCounts(productID string, up, down int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[productID]; ok {
		p.upvotes, p.downvotes = up, down
	}
}

func (p *product) counts(id string) model.ProductVoteCounts {
	return model.ProductVoteCounts{
		ProductID: id,
		Upvotes:   p.upvotes,
		Downvotes: p.downvotes,
		Score:     p.upvotes - p.downvotes,
		Version:   p.version,
		UpdatedAt: p.countsUpdate,
	}
}
