// Package ratelimit implements per-tenant sliding-window admission control
// for engine runs.
//
// Each tenant owns a window of request timestamps covering the last 60
// seconds. Admission appends a timestamp; a status query only reads. The
// tenant store is an LRU bounded by a fixed maximum so that a long tail of
// distinct tenants cannot grow memory without bound: the least recently
// touched tenant window is evicted first.
//
// The limiter is process-local and safe for concurrent use from simultaneous
// pipeline invocations for different tenants.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Window is the sliding admission window applied per tenant.
const Window = time.Minute

// ReasonRateLimit is the machine-readable denial reason.
const ReasonRateLimit = "rate_limit"

// Result is the outcome of an admission or status check.
type Result struct {
	Allowed   bool
	Remaining int           // admissions left in the current window
	ResetIn   time.Duration // time until the oldest timestamp exits the window
	Reason    string        // set only when denied
}

// tenantWindow holds the request timestamps for one tenant, oldest first.
type tenantWindow struct {
	stamps []time.Time
}

// Limiter tracks per-tenant sliding windows. Construct with New.
type Limiter struct {
	mu      sync.Mutex
	tenants *lru.Cache[string, *tenantWindow]

	// now is swappable for tests.
	now func() time.Time
}

// New returns a Limiter that tracks at most maxTenants windows, evicting the
// least recently touched tenant beyond that bound.
func New(maxTenants int) (*Limiter, error) {
	c, err := lru.New[string, *tenantWindow](maxTenants)
	if err != nil {
		return nil, err
	}
	return &Limiter{tenants: c, now: time.Now}, nil
}

// Admit records one request for tenantID and reports whether it is admitted
// under limitPerMinute. A denied request is not recorded.
func (l *Limiter) Admit(tenantID string, limitPerMinute int) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.window(tenantID)
	w.prune(now)

	if len(w.stamps) >= limitPerMinute {
		return Result{
			Allowed:   false,
			Remaining: 0,
			ResetIn:   w.resetIn(now),
			Reason:    ReasonRateLimit,
		}
	}

	w.stamps = append(w.stamps, now)
	return Result{
		Allowed:   true,
		Remaining: limitPerMinute - len(w.stamps),
		ResetIn:   w.resetIn(now),
	}
}

// Status reports the current window state for tenantID without recording a
// request. Dashboards poll this.
func (l *Limiter) Status(tenantID string, limitPerMinute int) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.window(tenantID)
	w.prune(now)

	remaining := limitPerMinute - len(w.stamps)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   remaining > 0,
		Remaining: remaining,
		ResetIn:   w.resetIn(now),
	}
}

// Reset clears the window for a single tenant.
func (l *Limiter) Reset(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tenants.Remove(tenantID)
}

// ResetAll clears every tracked window.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tenants.Purge()
}

// window fetches or creates the tenant's window, refreshing its LRU recency.
func (l *Limiter) window(tenantID string) *tenantWindow {
	if w, ok := l.tenants.Get(tenantID); ok {
		return w
	}
	w := &tenantWindow{}
	l.tenants.Add(tenantID, w)
	return w
}

// prune drops timestamps that have left the sliding window.
func (w *tenantWindow) prune(now time.Time) {
	cutoff := now.Add(-Window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// resetIn reports how long until the oldest recorded timestamp exits the
// window, or zero when the window is empty.
func (w *tenantWindow) resetIn(now time.Time) time.Duration {
	if len(w.stamps) == 0 {
		return 0
	}
	d := w.stamps[0].Add(Window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
