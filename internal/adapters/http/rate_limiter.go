package http

import (
	"sync"
	"time"

	"github.com/dkeye/consult/internal/app/screen"
)

// StartLimiter caps how many calls a screen may start within a sliding window.
type StartLimiter struct {
	mu       sync.Mutex
	history  map[screen.ID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewStartLimiter returns a limiter allowing limit starts per interval.
// A non-positive limit disables it.
func NewStartLimiter(limit int, interval time.Duration) *StartLimiter {
	return &StartLimiter{
		history:  make(map[screen.ID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *StartLimiter) Allow(id screen.ID) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}
	rl.history[id] = append(fresh, now)
	return true
}

// Forget drops a closed screen's history.
func (rl *StartLimiter) Forget(id screen.ID) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	delete(rl.history, id)
	rl.mu.Unlock()
}
