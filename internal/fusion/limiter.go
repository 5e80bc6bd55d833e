package fusion

import (
	"sync"
	"time"
)

// limiter enforces a minimum interval between accepted reports per user.
type limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
}

func newLimiter(interval time.Duration) *limiter {
	return &limiter{interval: interval, last: make(map[string]time.Time)}
}

// reserve stamps user at now unless the previous stamp is younger than the
// interval, in which case it returns the remaining wait. prev is the stamp
// to hand back to restore if the report is later rejected.
func (l *limiter) reserve(user string, now time.Time) (prev time.Time, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, ok := l.last[user]
	if ok {
		if elapsed := now.Sub(prev); elapsed < l.interval {
			return prev, l.interval - elapsed
		}
	}
	if len(l.last) > 4096 {
		for u, t := range l.last {
			if now.Sub(t) >= l.interval {
				delete(l.last, u)
			}
		}
	}
	l.last[user] = now
	return prev, 0
}

func (l *limiter) restore(user string, prev time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev.IsZero() {
		delete(l.last, user)
		return
	}
	l.last[user] = prev
}
