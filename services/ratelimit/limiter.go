package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type Decision struct {
	Allowed   bool
	ResetAt   time.Time
	Remaining int
}

// RetryAfter is the wait before the window resets, rounded up to whole
// seconds and never below one second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	secs := math.Ceil(d.ResetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Limiter gates how many awards an actor may hand out per window in one
// workspace.
type Limiter interface {
	Check(ctx context.Context, workspaceID, actorID string, requested int) (Decision, error)
}

type windowKey struct {
	workspaceID string
	actorID     string
}

type window struct {
	count   int
	resetAt time.Time
}

// sweepThreshold bounds how many stale windows accumulate before a check
// prunes expired entries.
const sweepThreshold = 10000

// WindowLimiter is a process-local fixed-window counter. It is not shared
// across replicas; use RedisLimiter for that.
type WindowLimiter struct {
	max    int
	period time.Duration
	clock  clockwork.Clock

	mu      sync.Mutex
	windows map[windowKey]*window
}

func NewWindowLimiter(max int, period time.Duration, clock clockwork.Clock) *WindowLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WindowLimiter{
		max:     max,
		period:  period,
		clock:   clock,
		windows: make(map[windowKey]*window),
	}
}

func (l *WindowLimiter) Enabled() bool {
	return l.max > 0 && l.period > 0
}

func (l *WindowLimiter) Check(_ context.Context, workspaceID, actorID string, requested int) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}

	now := l.clock.Now()
	key := windowKey{workspaceID: workspaceID, actorID: actorID}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		if len(l.windows) >= sweepThreshold {
			l.sweep(now)
		}
		w = &window{resetAt: now.Add(l.period)}
		l.windows[key] = w
	}

	if w.count+requested > l.max {
		return Decision{
			Allowed:   false,
			ResetAt:   w.resetAt,
			Remaining: max(0, l.max-w.count),
		}, nil
	}

	w.count += requested
	return Decision{
		Allowed:   true,
		ResetAt:   w.resetAt,
		Remaining: max(0, l.max-w.count),
	}, nil
}

func (l *WindowLimiter) sweep(now time.Time) {
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}
