package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "tickbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "runs.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: got %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must error")
	}
}

func TestAppendAndQuery(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 4, 7, 12, 0, 0, 0, time.UTC)
	recs := []RunRecord{
		{TaskID: "a", Name: "heartbeat", Started: base, Duration: 5 * time.Millisecond, Attempts: 1},
		{TaskID: "a", Name: "heartbeat", Started: base.Add(time.Minute), Duration: 7 * time.Millisecond, Attempts: 1},
		{TaskID: "b", Name: "webhook", Started: base.Add(30 * time.Second), Duration: 200 * time.Millisecond, Attempts: 3, Error: "timeout"},
	}
	if err := st.AppendRuns(ctx, recs); err != nil {
		t.Fatalf("AppendRuns: %v", err)
	}
	if err := st.AppendRuns(ctx, nil); err != nil {
		t.Fatalf("empty batch must be a no-op: %v", err)
	}

	all, err := st.RecentRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d rows, want 3", len(all))
	}
	// newest first
	if !all[0].Started.Equal(base.Add(time.Minute)) {
		t.Fatalf("order: first row started %v", all[0].Started)
	}

	hb, err := st.RecentRuns(ctx, "heartbeat", 10)
	if err != nil {
		t.Fatalf("RecentRuns(heartbeat): %v", err)
	}
	if len(hb) != 2 {
		t.Fatalf("got %d heartbeat rows, want 2", len(hb))
	}

	wh, _ := st.RecentRuns(ctx, "webhook", 10)
	if len(wh) != 1 || wh[0].Error != "timeout" || wh[0].Attempts != 3 {
		t.Fatalf("webhook row: %+v", wh)
	}
}

func TestPruneBefore(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 4, 7, 12, 0, 0, 0, time.UTC)
	if err := st.AppendRuns(ctx, []RunRecord{
		{TaskID: "a", Name: "old", Started: base.Add(-48 * time.Hour)},
		{TaskID: "a", Name: "old", Started: base.Add(-25 * time.Hour)},
		{TaskID: "a", Name: "fresh", Started: base},
	}); err != nil {
		t.Fatalf("AppendRuns: %v", err)
	}

	n, err := st.PruneBefore(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned %d rows, want 2", n)
	}

	left, _ := st.RecentRuns(ctx, "", 10)
	if len(left) != 1 || left[0].Name != "fresh" {
		t.Fatalf("unexpected survivors: %+v", left)
	}
}
