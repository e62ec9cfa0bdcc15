package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one completed task invocation.
// Keep it compact and schema-stable.
type RunRecord struct {
	TaskID   string
	Name     string
	Started  time.Time
	Duration time.Duration
	Attempts int
	Error    string
}
