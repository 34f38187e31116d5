package httpapi

import (
	"sync"
	"time"
)

// WindowLimiter admits at most limit calls inside any trailing window and reports how long a
// rejected caller should wait before the oldest admitted call ages out.
type WindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu       sync.Mutex
	admitted []time.Time
}

// NewWindowLimiter returns a limiter; a non-positive window or limit disables it.
func NewWindowLimiter(window time.Duration, limit int, clock func() time.Time) *WindowLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &WindowLimiter{window: window, limit: limit, now: clock}
}

// Reserve admits the call or returns the delay until a slot frees up.
func (l *WindowLimiter) Reserve() (bool, time.Duration) {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	//1.- Admitted timestamps are appended in order so expired ones form a prefix.
	expired := 0
	for expired < len(l.admitted) && !l.admitted[expired].After(now.Add(-l.window)) {
		expired++
	}
	l.admitted = append(l.admitted[:0], l.admitted[expired:]...)

	if len(l.admitted) >= l.limit {
		return false, l.admitted[0].Add(l.window).Sub(now)
	}
	l.admitted = append(l.admitted, now)
	return true, 0
}

// Allow is Reserve without the retry hint.
func (l *WindowLimiter) Allow() bool {
	ok, _ := l.Reserve()
	return ok
}
