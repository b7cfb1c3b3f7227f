package voteclient

import "sync"

// Snapshot is what a client displays for one product.
type Snapshot struct {
	Upvotes   int
	Downvotes int
	MyVote    Direction
	Version   int64
}

// OptimisticState tracks one product's counts on the client. The confirmed
// snapshot only moves forward in version; a pending vote is layered on top
// of it for display until the server confirms or rejects it.
//
// The overlay applies only while the confirmed counts are the ones the vote
// was applied on. A newer broadcast may already include the vote, so once
// one arrives the counts are shown as broadcast and only MyVote stays
// optimistic.
type OptimisticState struct {
	mu          sync.Mutex
	productID   string
	confirmed   Snapshot
	pending     Direction
	baseVersion int64
}

func NewOptimisticState(productID string, initial Snapshot) *OptimisticState {
	if initial.MyVote == "" {
		initial.MyVote = None
	}
	return &OptimisticState{productID: productID, confirmed: initial}
}

// View returns the snapshot to display.
func (s *OptimisticState) View() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

func (s *OptimisticState) view() Snapshot {
	v := s.confirmed
	if s.pending == "" {
		return v
	}
	next := s.pending
	if v.MyVote == next {
		next = None
	}
	if v.Version != s.baseVersion {
		v.MyVote = next
		return v
	}
	switch v.MyVote {
	case Up:
		v.Upvotes--
	case Down:
		v.Downvotes--
	}
	switch next {
	case Up:
		v.Upvotes++
	case Down:
		v.Downvotes++
	}
	v.Upvotes = max(v.Upvotes, 0)
	v.Downvotes = max(v.Downvotes, 0)
	v.MyVote = next
	return v
}

// Apply records a vote locally, assuming success, and returns the new view.
func (s *OptimisticState) Apply(dir Direction) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != "" {
		return s.view(), ErrVotePending
	}
	s.pending = dir
	s.baseVersion = s.confirmed.Version
	return s.view(), nil
}

// Confirm settles the pending vote with the server's answer. Counts are taken
// only when the answer is newer than what is already known, since a
// broadcast carrying a later version may have arrived first.
func (s *OptimisticState) Confirm(r VoteResult) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = ""
	s.confirmed.MyVote = r.AppliedDirection
	if r.Version > s.confirmed.Version {
		s.confirmed.Upvotes = r.Upvotes
		s.confirmed.Downvotes = r.Downvotes
		s.confirmed.Version = r.Version
	}
	return s.view()
}

// Rollback discards the pending vote after a rejection. Display returns to
// the latest confirmed counts, which already include any deltas seen while
// the vote was in flight.
func (s *OptimisticState) Rollback() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = ""
	return s.view()
}

// Observe applies a broadcast delta. Deltas for other products or with a
// version not newer than the confirmed one are discarded, whatever order
// they arrive in. It reports whether the delta was applied.
func (s *OptimisticState) Observe(d Delta) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ProductID != s.productID || d.Version <= s.confirmed.Version {
		return false
	}
	s.confirmed.Upvotes = d.NewUpvotes
	s.confirmed.Downvotes = d.NewDownvotes
	s.confirmed.Version = d.Version
	return true
}

// Refresh replaces the confirmed state with a full fetch, used after a
// reconnect or an unknown outcome. Older fetches are ignored.
func (s *OptimisticState) Refresh(c Counts, myVote Direction) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = ""
	if myVote != "" {
		s.confirmed.MyVote = myVote
	}
	if c.Version >= s.confirmed.Version {
		s.confirmed.Upvotes = c.Upvotes
		s.confirmed.Downvotes = c.Downvotes
		s.confirmed.Version = c.Version
	}
	return s.view()
}
