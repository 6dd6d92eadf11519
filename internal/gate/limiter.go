package gate

import (
	"context"
	"fmt"
	"time"
)

// WindowSize is the length of a rate limit window.
const WindowSize = 60 * time.Second

const windowSeconds = int64(WindowSize / time.Second)

// WindowStore persists one fixed-window counter per key.
//
// Admit applies a single request to the key's counter and must do so atomically per key:
//   - no stored window: store count 1 for windowStart and admit
//   - stored window equal to windowStart: reject without incrementing when count >= limit,
//     otherwise increment and admit
//   - stored window different from windowStart: overwrite with count 1 and admit
type WindowStore interface {
	Admit(ctx context.Context, keyID string, windowStart int64, limit int) (bool, error)
}

// Admission is the outcome of a single limiter call.
type Admission struct {
	Allowed     bool
	WindowStart int64
	// RetryAfter is the time left in the current window.
	RetryAfter time.Duration
}

// Limiter is a fixed-window request counter.
//
// A burst straddling a window boundary can admit up to twice the limit within 60 seconds.
// That is inherent to fixed windows and kept deliberately.
type Limiter struct {
	store WindowStore
	clock Clock
}

// NewLimiter returns a Limiter over store. A nil clock means the system clock.
func NewLimiter(store WindowStore, clock Clock) *Limiter {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Limiter{store: store, clock: clock}
}

// WindowStart floors t to the start of its 60-second window, in epoch seconds.
func WindowStart(t time.Time) int64 {
	sec := t.Unix()
	return sec - sec%windowSeconds
}

// RetryAfter returns the time left in the window containing now, never less than one second.
func RetryAfter(now time.Time) time.Duration {
	end := time.Unix(WindowStart(now)+windowSeconds, 0)
	d := end.Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Admit records one request for keyID. A store error rejects the request and is returned wrapped
// in ErrStoreUnavailable.
func (l *Limiter) Admit(ctx context.Context, keyID string, limit int) (Admission, error) {
	now := l.clock.Now()
	adm := Admission{
		WindowStart: WindowStart(now),
		RetryAfter:  RetryAfter(now),
	}
	allowed, err := l.store.Admit(ctx, keyID, adm.WindowStart, limit)
	if err != nil {
		return adm, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	adm.Allowed = allowed
	return adm, nil
}
