package storage

// Package storage persists task run history.
//
// It currently supports:
//   - Run record appends (flushed from the scheduler's in-memory history)
//   - Recent-run queries for diagnostics
//   - Retention pruning
