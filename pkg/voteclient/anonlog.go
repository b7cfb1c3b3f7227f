package voteclient

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultAnonLimit  = 5
	DefaultAnonWindow = 24 * time.Hour
)

// AnonEntry is one recorded anonymous vote attempt.
type AnonEntry struct {
	ProductID string    `json:"productId"`
	Direction Direction `json:"direction"`
	At        time.Time `json:"timestamp"`
}

// AnonymousLog is the client-held record of recent anonymous votes. It only
// pre-filters requests that would certainly be rejected; the server keeps
// its own count and its answer wins. The log can be lost or edited, so it
// must never be treated as a security boundary.
type AnonymousLog struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clock   clockwork.Clock
	entries []AnonEntry
}

func NewAnonymousLog(limit int, window time.Duration, clock clockwork.Clock) *AnonymousLog {
	if limit <= 0 {
		limit = DefaultAnonLimit
	}
	if window <= 0 {
		window = DefaultAnonWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AnonymousLog{limit: limit, window: window, clock: clock}
}

// prune drops entries at or beyond the window edge. Caller holds mu.
func (l *AnonymousLog) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.At.After(cutoff) {
			kept = append(kept, e)
		}
	}
	l.entries = kept
}

// CheckAndRecord reports whether another vote fits in the window and, if so,
// records it.
func (l *AnonymousLog) CheckAndRecord(productID string, dir Direction) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)
	if len(l.entries) >= l.limit {
		return false
	}
	l.entries = append(l.entries, AnonEntry{ProductID: productID, Direction: dir, At: now})
	return true
}

// Remaining returns how many votes fit in the current window and when the
// oldest entry leaves it. With no entries the reset time is now.
func (l *AnonymousLog) Remaining() (int, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)
	if len(l.entries) == 0 {
		return l.limit, now
	}
	return max(l.limit-len(l.entries), 0), l.entries[0].At.Add(l.window)
}

// Entries returns a copy of the pruned log, oldest first.
func (l *AnonymousLog) Entries() []AnonEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.clock.Now())
	return append([]AnonEntry(nil), l.entries...)
}

func (l *AnonymousLog) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Entries())
}

// LoadAnonymousLog rebuilds a log from persisted JSON. Corrupt or unreadable
// data yields an empty log; entries without a timestamp are skipped and the
// rest are kept in time order.
func LoadAnonymousLog(data []byte, limit int, window time.Duration, clock clockwork.Clock) *AnonymousLog {
	l := NewAnonymousLog(limit, window, clock)
	var entries []AnonEntry
	if len(data) == 0 || json.Unmarshal(data, &entries) != nil {
		return l
	}
	for _, e := range entries {
		if e.At.IsZero() {
			continue
		}
		l.entries = append(l.entries, e)
	}
	slices.SortStableFunc(l.entries, func(a, b AnonEntry) int { return a.At.Compare(b.At) })
	l.prune(l.clock.Now())
	return l
}
