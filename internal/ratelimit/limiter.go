package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LimitFunc returns the per-minute send limit for a tenant. Values <= 0 are
// treated as a misconfiguration and clamped to 1.
type LimitFunc func(tenantID string) int

type Status struct {
	Used    int       `json:"used"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"resetAt"`
	CanSend bool      `json:"canSend"`
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter tracks a sliding-minute send counter per tenant. Reservations are
// check-and-increment under one lock; a failed send rolls its reservation
// back via Release. Windows self-heal lazily on access, so the periodic
// Sweep is defensive, not load-bearing.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	limitFor LimitFunc

	now func() time.Time // test hook
}

func New(limitFor LimitFunc) *Limiter {
	return &Limiter{
		windows:  make(map[string]*window),
		limitFor: limitFor,
		now:      time.Now,
	}
}

// LimitFor returns the tenant's configured limit clamped to minimum 1.
func (l *Limiter) LimitFor(tenantID string) int {
	limit := l.limitFor(tenantID)
	if limit < 1 {
		limit = 1
	}
	return limit
}

// windowFor returns the tenant's current window, creating or resetting it if
// the minute has rolled over. Caller must hold l.mu.
func (l *Limiter) windowFor(tenantID string, now time.Time) *window {
	w, ok := l.windows[tenantID]
	if !ok {
		w = &window{resetAt: now.Add(time.Minute)}
		l.windows[tenantID] = w
		return w
	}
	if !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(time.Minute)
	}
	return w
}

// TryReserve consumes one slot of the tenant's window if capacity remains.
// The increment happens before the network call so two concurrent sends
// cannot both observe spare capacity.
func (l *Limiter) TryReserve(tenantID string) bool {
	limit := l.LimitFor(tenantID)

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windowFor(tenantID, l.now())
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

// Release rolls back one reservation after a failed send. Clamped at zero:
// a release racing a window reset must not drive the fresh window negative.
func (l *Limiter) Release(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[tenantID]
	if !ok {
		return
	}
	if w.count > 0 {
		w.count--
	}
}

func (l *Limiter) Status(tenantID string) Status {
	limit := l.LimitFor(tenantID)

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windowFor(tenantID, l.now())
	return Status{
		Used:    w.count,
		Limit:   limit,
		ResetAt: w.resetAt,
		CanSend: w.count < limit,
	}
}

// Sweep resets expired windows. Lazy resets in windowFor already cover
// correctness; this bounds memory for tenants that stopped sending.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for tenantID, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, tenantID)
		}
	}
}

// Run sweeps on the given interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
