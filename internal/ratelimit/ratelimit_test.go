package ratelimit

import (
	"sync"
	"testing"
	"time"

	"tickbot/internal/clock"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*FixedWindow, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	l, err := NewFixedWindow(Config{Limit: limit, Window: window}, fake)
	if err != nil {
		t.Fatalf("NewFixedWindow error: %v", err)
	}
	return l, fake
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()
	fake := clock.NewFake(time.Now())
	if _, err := NewFixedWindow(Config{Limit: 0, Window: time.Second}, fake); err == nil {
		t.Fatal("expected error for limit 0")
	}
	if _, err := NewFixedWindow(Config{Limit: 1, Window: 0}, fake); err == nil {
		t.Fatal("expected error for window 0")
	}
	if _, err := NewFixedWindow(Config{Limit: 1, Window: time.Second}, nil); err == nil {
		t.Fatal("expected error for nil clock")
	}
}

func TestAllowWithinWindow(t *testing.T) {
	t.Parallel()
	const limit = 5
	l, fake := newTestLimiter(t, limit, time.Minute)
	start := fake.Now()

	prev := limit
	for i := 1; i <= limit; i++ {
		res := l.Allow("binance")
		if !res.Allowed {
			t.Fatalf("call %d: denied within quota", i)
		}
		if res.Remaining >= prev {
			t.Fatalf("call %d: remaining %d not strictly decreasing (prev %d)", i, res.Remaining, prev)
		}
		prev = res.Remaining
		if want := start.Add(time.Minute); !res.ResetAt.Equal(want) {
			t.Fatalf("call %d: ResetAt = %v, want %v", i, res.ResetAt, want)
		}
		if res.RetryAfter != 0 {
			t.Fatalf("call %d: RetryAfter set on allowed result", i)
		}
	}

	res := l.Allow("binance")
	if res.Allowed {
		t.Fatal("call limit+1: should be denied")
	}
	if res.Remaining != 0 {
		t.Fatalf("denied remaining = %d, want 0", res.Remaining)
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("denied RetryAfter = %v, want > 0", res.RetryAfter)
	}
}

func TestWindowRollover(t *testing.T) {
	t.Parallel()
	l, fake := newTestLimiter(t, 2, time.Minute)

	l.Allow("kraken")
	l.Allow("kraken")
	if res := l.Allow("kraken"); res.Allowed {
		t.Fatal("expected exhaustion")
	}

	fake.Advance(time.Minute)

	res := l.Allow("kraken")
	if !res.Allowed {
		t.Fatal("expected fresh window after rollover")
	}
	if res.Remaining != 1 {
		t.Fatalf("Remaining = %d, want limit-1 = 1", res.Remaining)
	}
}

func TestStatusDoesNotConsume(t *testing.T) {
	t.Parallel()
	l, fake := newTestLimiter(t, 3, time.Minute)

	if st := l.Status("webhook"); st.Remaining != 3 || st.TotalRequests != 0 || !st.ResetAt.IsZero() {
		t.Fatalf("fresh key status = %+v", st)
	}

	l.Allow("webhook")
	l.Allow("webhook")

	st := l.Status("webhook")
	if st.Remaining != 1 || st.TotalRequests != 2 {
		t.Fatalf("status = %+v, want remaining 1 total 2", st)
	}
	// Several status reads in a row must not change anything.
	if again := l.Status("webhook"); again != st {
		t.Fatalf("status changed on read: %+v vs %+v", again, st)
	}

	// Lifetime counter survives window rollover.
	fake.Advance(2 * time.Minute)
	l.Allow("webhook")
	if st := l.Status("webhook"); st.TotalRequests != 3 || st.Remaining != 2 {
		t.Fatalf("post-rollover status = %+v", st)
	}
}

func TestResetClearsEverything(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(t, 1, time.Minute)

	l.Allow("chat:42")
	if res := l.Allow("chat:42"); res.Allowed {
		t.Fatal("expected exhaustion")
	}

	l.Reset("chat:42")

	if res := l.Allow("chat:42"); !res.Allowed {
		t.Fatal("expected admission after reset")
	}
	if st := l.Status("chat:42"); st.TotalRequests != 1 {
		t.Fatalf("lifetime counter not cleared by reset: %d", st.TotalRequests)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(t, 1, time.Minute)

	if res := l.Allow("a"); !res.Allowed {
		t.Fatal("a should be allowed")
	}
	if res := l.Allow("a"); res.Allowed {
		t.Fatal("a should be exhausted")
	}
	if res := l.Allow("b"); !res.Allowed {
		t.Fatal("b must not be affected by a")
	}
}

// Concurrent callers on one key must never both observe the same count:
// exactly limit admissions per window, no matter the interleaving.
func TestConcurrentAllowExactness(t *testing.T) {
	t.Parallel()
	const (
		limit   = 50
		callers = 200
	)
	l, _ := newTestLimiter(t, limit, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Fatalf("allowed = %d, want exactly %d", allowed, limit)
	}
	if st := l.Status("shared"); st.TotalRequests != callers {
		t.Fatalf("TotalRequests = %d, want %d", st.TotalRequests, callers)
	}
}
