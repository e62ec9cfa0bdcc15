package cron

import (
	"errors"
	"testing"
	"time"
)

func mustParse(t *testing.T, expr string) Schedule {
	t.Helper()
	s, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", expr, err)
	}
	return s
}

func TestParseNext(t *testing.T) {
	t.Parallel()
	// Monday.
	ref := time.Date(2025, 1, 6, 10, 0, 30, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{
			name: "every minute",
			expr: "* * * * *",
			want: time.Date(2025, 1, 6, 10, 1, 0, 0, time.UTC),
		},
		{
			name: "step minutes",
			expr: "*/15 * * * *",
			want: time.Date(2025, 1, 6, 10, 15, 0, 0, time.UTC),
		},
		{
			name: "fixed time next day",
			expr: "30 9 * * *",
			want: time.Date(2025, 1, 7, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "comma list",
			expr: "0 8,20 * * *",
			want: time.Date(2025, 1, 6, 20, 0, 0, 0, time.UTC),
		},
		{
			name: "range of hours",
			expr: "0 9-17 * * *",
			want: time.Date(2025, 1, 6, 11, 0, 0, 0, time.UTC),
		},
		{
			name: "weekday restricted",
			expr: "0 12 * * 3",
			want: time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "six fields with seconds",
			expr: "45 * * * * *",
			want: time.Date(2025, 1, 6, 10, 0, 45, 0, time.UTC),
		},
		{
			name: "descriptor hourly",
			expr: "@hourly",
			want: time.Date(2025, 1, 6, 11, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := mustParse(t, tt.expr).Next(ref)
			if !got.Equal(tt.want) {
				t.Fatalf("Next(%v) = %v, want %v", ref, got, tt.want)
			}
			if !got.After(ref) {
				t.Fatalf("Next must be strictly after reference, got %v", got)
			}
		})
	}
}

// When both day-of-month and day-of-week are restricted, conventional cron
// fires when either matches.
func TestDomDowUnion(t *testing.T) {
	t.Parallel()
	sched := mustParse(t, "0 12 13 * 5")

	// Monday Jan 6: the next Friday (Jan 10) comes before the 13th.
	ref := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	got := sched.Next(ref)
	want := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want Friday %v", got, want)
	}

	// Saturday Jan 11: now the 13th (a Monday) comes before next Friday.
	ref = time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)
	got = sched.Next(ref)
	want = time.Date(2025, 1, 13, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want 13th %v", got, want)
	}
}

func TestNextStrictlyGreaterOnExactMatch(t *testing.T) {
	t.Parallel()
	sched := mustParse(t, "* * * * *")
	ref := time.Date(2025, 1, 6, 10, 5, 0, 0, time.UTC)
	got := sched.Next(ref)
	if !got.After(ref) {
		t.Fatalf("Next(%v) = %v not strictly greater", ref, got)
	}
	if want := ref.Add(time.Minute); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	exprs := []string{
		"",
		"* * * *",
		"* * * * * * *",
		"61 * * * *",
		"* 25 * * *",
		"not a cron at all ok",
		"@nonsense",
	}
	for _, expr := range exprs {
		if _, err := Parse(expr); err == nil {
			t.Fatalf("Parse(%q): expected error", expr)
		} else {
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Parse(%q): error %T is not *ParseError", expr, err)
			}
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := Validate("*/5 * * * *"); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if err := Validate("bogus"); err == nil {
		t.Fatal("expected error")
	}
}
