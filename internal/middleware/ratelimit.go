package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"

	"github.com/tierd/tierd-go/internal/metrics"
)

// ThrottleConfig bounds raw request volume per key. It is a transport-level
// flood guard and is independent of the anonymous vote allowance.
type ThrottleConfig struct {
	Max    int
	Window time.Duration
	KeyFn  func(c fiber.Ctx) string
	Scope  string
	Clock  clockwork.Clock
}

type window struct {
	count int
	ends  time.Time
}

// Throttle is an in-memory fixed-window request counter.
type Throttle struct {
	mu      sync.Mutex
	windows map[string]*window
	cfg     ThrottleConfig
}

// NewThrottle creates a throttle. A Max of zero or less disables it.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.KeyFn == nil {
		cfg.KeyFn = KeyByIP
	}
	return &Throttle{windows: make(map[string]*window), cfg: cfg}
}

// take counts one request for key and reports the remaining budget and the
// end of the current window.
func (t *Throttle) take(key string) (remaining int, ends time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.cfg.Clock.Now()
	w, ok := t.windows[key]
	if !ok || !now.Before(w.ends) {
		w = &window{ends: now.Add(t.cfg.Window)}
		t.windows[key] = w
	}
	w.count++
	return t.cfg.Max - w.count, w.ends
}

// Allow counts a request for key and reports whether it fits the budget.
func (t *Throttle) Allow(key string) bool {
	if t.cfg.Max <= 0 {
		return true
	}
	remaining, _ := t.take(key)
	return remaining >= 0
}

// Handler returns the Fiber middleware enforcing the throttle.
func (t *Throttle) Handler() fiber.Handler {
	return func(c fiber.Ctx) error {
		if t.cfg.Max <= 0 {
			return c.Next()
		}
		remaining, ends := t.take(t.cfg.KeyFn(c))

		c.Set("X-RateLimit-Limit", strconv.Itoa(t.cfg.Max))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(ends.Unix(), 10))

		if remaining < 0 {
			retryAfter := int(ends.Sub(t.cfg.Clock.Now()).Seconds()) + 1
			c.Set("Retry-After", strconv.Itoa(retryAfter))
			metrics.RequestsThrottled.WithLabelValues(t.cfg.Scope).Inc()
			return ErrorResponse(c, fiber.StatusTooManyRequests, "throttled", "too many requests, slow down")
		}
		return c.Next()
	}
}

// Sweep drops expired windows.
func (t *Throttle) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.cfg.Clock.Now()
	n := 0
	for key, w := range t.windows {
		if !now.Before(w.ends) {
			delete(t.windows, key)
			n++
		}
	}
	return n
}

// RunSweeper sweeps expired windows every interval until ctx is done.
func (t *Throttle) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := t.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.Sweep()
		}
	}
}

// KeyByIP returns the client IP as the throttle key.
func KeyByIP(c fiber.Ctx) string {
	return "ip:" + c.IP()
}

// KeyByVoter keys on the authenticated user when present, else the IP.
func KeyByVoter(c fiber.Ctx) string {
	if uid := UserID(c); uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.IP()
}

// NewVoteThrottle limits vote mutations to perMinute per voter.
func NewVoteThrottle(perMinute int, clock clockwork.Clock) *Throttle {
	return NewThrottle(ThrottleConfig{Max: perMinute, Window: time.Minute, KeyFn: KeyByVoter, Scope: "vote", Clock: clock})
}

// NewReadThrottle limits read endpoints to perMinute per IP.
func NewReadThrottle(perMinute int, clock clockwork.Clock) *Throttle {
	return NewThrottle(ThrottleConfig{Max: perMinute, Window: time.Minute, KeyFn: KeyByIP, Scope: "read", Clock: clock})
}
