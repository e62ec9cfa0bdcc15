package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "tickbot/pkg/logx"
)

// Store is the minimal persistence API used by the app.
type Store interface {
	AppendRuns(ctx context.Context, recs []RunRecord) error
	RecentRuns(ctx context.Context, taskName string, limit int) ([]RunRecord, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
