// Package clock is the single source of wall-clock time for the runtime.
//
// Components never call time.Now() directly; they take a Clock so the
// scheduler, rate limiter and cron math stay deterministic under test
// (substitute a Fake and advance it by hand).
package clock

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Clock supplies the current instant in a configured timezone.
//
// Implementations must be safe for concurrent use and must not perform I/O.
type Clock interface {
	Now() time.Time
	Location() *time.Location
	// Timezone returns the IANA zone identifier this clock was configured with.
	Timezone() string
}

// System reads the real wall clock, normalized to a fixed location.
type System struct {
	loc *time.Location
}

// NewSystem builds a system clock for the given IANA timezone.
// An empty tz means the process-local zone.
func NewSystem(tz string) (*System, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return &System{loc: time.Local}, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("clock: invalid timezone %q: %w", tz, err)
	}
	return &System{loc: loc}, nil
}

func (c *System) Now() time.Time            { return time.Now().In(c.loc) }
func (c *System) Location() *time.Location { return c.loc }
func (c *System) Timezone() string         { return c.loc.String() }

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a fake clock frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Location() *time.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now.Location()
}

func (f *Fake) Timezone() string { return f.Location().String() }

// Set jumps the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new instant.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	f.now = f.now.Add(d)
	t := f.now
	f.mu.Unlock()
	return t
}

