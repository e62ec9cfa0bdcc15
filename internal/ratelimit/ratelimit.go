// Package ratelimit answers admission queries against per-key quotas.
//
// It implements fixed-window counting: the counter resets at discrete
// window boundaries rather than sliding. Denials are communicated in the
// Result, never as errors, so callers can choose to wait or skip without
// exception-driven control flow. Keys are fully independent; each key's
// read-modify-write is a single atomic step under that key's lock.
//
// Key growth is unbounded on purpose: callers use bounded key spaces such
// as exchange or service names.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"tickbot/internal/clock"
)

// Config is one key-class's quota.
type Config struct {
	Limit  int           // max requests per window, > 0
	Window time.Duration // window length, > 0
}

func (c Config) validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("ratelimit: limit must be > 0, got %d", c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("ratelimit: window must be > 0, got %s", c.Window)
	}
	return nil
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// RetryAfter is how long until the window rolls; set only when denied.
	RetryAfter time.Duration
}

// Status is a read-only view of a key. It never mutates counters.
type Status struct {
	Remaining int
	ResetAt   time.Time
	// TotalRequests counts every Allow() call for the key's lifetime.
	// Window rollover does not reset it; only Reset() does.
	TotalRequests uint64
}

type window struct {
	mu    sync.Mutex
	start time.Time
	count int
	total uint64
}

// FixedWindow tracks per-key request counters over a rolling fixed window.
type FixedWindow struct {
	cfg Config
	clk clock.Clock

	// mu guards the key map only; counter updates take the per-key lock
	// so unrelated keys never contend.
	mu   sync.RWMutex
	keys map[string]*window
}

// NewFixedWindow builds a limiter for one key-class.
func NewFixedWindow(cfg Config, clk clock.Clock) (*FixedWindow, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		return nil, fmt.Errorf("ratelimit: clock is required")
	}
	return &FixedWindow{cfg: cfg, clk: clk, keys: make(map[string]*window)}, nil
}

// Limit returns the configured per-window maximum.
func (l *FixedWindow) Limit() int { return l.cfg.Limit }

// Window returns the configured window length.
func (l *FixedWindow) Window() time.Duration { return l.cfg.Window }

func (l *FixedWindow) window(key string) *window {
	l.mu.RLock()
	w := l.keys[key]
	l.mu.RUnlock()
	if w != nil {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w = l.keys[key]; w == nil {
		w = &window{}
		l.keys[key] = w
	}
	return w
}

// Allow records one request against key and reports whether it is admitted.
//
// If no window exists or the current one has expired, a fresh window starts
// at now. The count is incremented first; the request is allowed while
// count <= limit.
func (l *FixedWindow) Allow(key string) Result {
	w := l.window(key)
	now := l.clk.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.start.IsZero() || now.Sub(w.start) >= l.cfg.Window {
		w.start = now
		w.count = 0
	}
	w.count++
	w.total++

	resetAt := w.start.Add(l.cfg.Window)
	remaining := l.cfg.Limit - w.count
	if remaining < 0 {
		remaining = 0
	}

	res := Result{
		Allowed:   w.count <= l.cfg.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = resetAt.Sub(now)
	}
	return res
}

// Status reports the key's current state without consuming quota.
// A key with no live window reports Remaining == Limit and a zero ResetAt.
func (l *FixedWindow) Status(key string) Status {
	w := l.window(key)
	now := l.clk.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	st := Status{TotalRequests: w.total}
	if w.start.IsZero() || now.Sub(w.start) >= l.cfg.Window {
		st.Remaining = l.cfg.Limit
		return st
	}
	st.Remaining = l.cfg.Limit - w.count
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	st.ResetAt = w.start.Add(l.cfg.Window)
	return st
}

// Reset clears the key's window and its lifetime counter immediately.
func (l *FixedWindow) Reset(key string) {
	l.mu.Lock()
	delete(l.keys, key)
	l.mu.Unlock()
}
