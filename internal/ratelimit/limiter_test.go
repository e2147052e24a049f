package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(t *testing.T) (*Limiter, *time.Time) {
	t.Helper()
	l, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAdmit_DeniesOverLimit(t *testing.T) {
	l, _ := newTestLimiter(t)

	const limit = 5
	for i := 0; i < limit; i++ {
		res := l.Admit("t1", limit)
		if !res.Allowed {
			t.Fatalf("call %d: expected allowed", i+1)
		}
		if want := limit - i - 1; res.Remaining != want {
			t.Fatalf("call %d: remaining = %d, want %d", i+1, res.Remaining, want)
		}
	}

	res := l.Admit("t1", limit)
	if res.Allowed {
		t.Fatal("limit+1-th call: expected denied")
	}
	if res.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", res.Remaining)
	}
	if res.Reason != ReasonRateLimit {
		t.Fatalf("reason = %q, want %q", res.Reason, ReasonRateLimit)
	}
	if res.ResetIn <= 0 || res.ResetIn > Window {
		t.Fatalf("resetIn = %v, want in (0, %v]", res.ResetIn, Window)
	}
}

func TestAdmit_WindowSlides(t *testing.T) {
	l, now := newTestLimiter(t)

	const limit = 2
	l.Admit("t1", limit)
	l.Admit("t1", limit)
	if res := l.Admit("t1", limit); res.Allowed {
		t.Fatal("expected denial inside window")
	}

	// Advance past the window; the old stamps must age out.
	*now = now.Add(Window + time.Second)
	res := l.Admit("t1", limit)
	if !res.Allowed {
		t.Fatal("expected admission after window slid")
	}
	if res.Remaining != limit-1 {
		t.Fatalf("remaining = %d, want %d", res.Remaining, limit-1)
	}
}

func TestStatus_DoesNotRecord(t *testing.T) {
	l, _ := newTestLimiter(t)

	const limit = 3
	l.Admit("t1", limit)

	for i := 0; i < 10; i++ {
		res := l.Status("t1", limit)
		if res.Remaining != limit-1 {
			t.Fatalf("status poll %d: remaining = %d, want %d", i, res.Remaining, limit-1)
		}
		if !res.Allowed {
			t.Fatalf("status poll %d: expected allowed", i)
		}
	}
}

func TestReset_RestoresRemaining(t *testing.T) {
	l, _ := newTestLimiter(t)

	const limit = 2
	l.Admit("t1", limit)
	l.Admit("t1", limit)
	if res := l.Status("t1", limit); res.Remaining != 0 {
		t.Fatalf("pre-reset remaining = %d, want 0", res.Remaining)
	}

	l.Reset("t1")
	if res := l.Status("t1", limit); res.Remaining != limit {
		t.Fatalf("post-reset remaining = %d, want %d", res.Remaining, limit)
	}
}

func TestResetAll_ClearsEveryTenant(t *testing.T) {
	l, _ := newTestLimiter(t)

	l.Admit("t1", 1)
	l.Admit("t2", 1)
	l.ResetAll()

	if res := l.Status("t1", 1); res.Remaining != 1 {
		t.Fatalf("t1 remaining = %d, want 1", res.Remaining)
	}
	if res := l.Status("t2", 1); res.Remaining != 1 {
		t.Fatalf("t2 remaining = %d, want 1", res.Remaining)
	}
}

func TestTenantIsolation(t *testing.T) {
	l, _ := newTestLimiter(t)

	const limit = 1
	l.Admit("t1", limit)
	if res := l.Admit("t1", limit); res.Allowed {
		t.Fatal("t1 should be exhausted")
	}
	if res := l.Admit("t2", limit); !res.Allowed {
		t.Fatal("t2 must not be affected by t1's window")
	}
}

func TestStoreEvictsOldestTenants(t *testing.T) {
	l, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	const limit = 1
	l.Admit("t1", limit)
	l.Admit("t2", limit)
	l.Admit("t3", limit) // evicts t1

	// t1's window was evicted, so it gets a fresh allowance.
	if res := l.Admit("t1", limit); !res.Allowed {
		t.Fatal("evicted tenant should start a fresh window")
	}
}
