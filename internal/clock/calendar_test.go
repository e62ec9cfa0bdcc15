package clock

import (
	"testing"
	"time"
)

func TestFormatParseRoundTrip(t *testing.T) {
	t.Parallel()
	loc, _ := time.LoadLocation("UTC")
	orig := time.Date(2025, 3, 14, 15, 9, 26, 0, loc)

	s := Format(orig)
	if s != "2025-03-14 15:09:26" {
		t.Fatalf("Format = %q", s)
	}
	back, err := Parse(s, loc)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !back.Equal(orig) {
		t.Fatalf("round trip: %v != %v", back, orig)
	}

	if _, err := Parse("garbage", loc); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDiffTruncates(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b time.Time
		fn   func(a, b time.Time) int64
		want int64
	}{
		{"minutes truncate down", base.Add(119 * time.Second), base, DiffInMinutes, 1},
		{"minutes negative", base, base.Add(90 * time.Second), DiffInMinutes, -1},
		{"hours truncate", base.Add(179 * time.Minute), base, DiffInHours, 2},
		{"days truncate", base.Add(47 * time.Hour), base, DiffInDays, 1},
		{"zero", base, base, DiffInDays, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.a, tt.b); got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAddersDoNotMutate(t *testing.T) {
	t.Parallel()
	orig := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)
	snapshot := orig

	if got := AddDays(orig, 1); got.Day() != 1 || got.Month() != time.February {
		t.Fatalf("AddDays = %v", got)
	}
	if got := AddHours(orig, 13); got.Day() != 1 {
		t.Fatalf("AddHours = %v", got)
	}
	if got := AddMinutes(orig, 61); got.Hour() != 13 {
		t.Fatalf("AddMinutes = %v", got)
	}
	if !orig.Equal(snapshot) {
		t.Fatal("input mutated")
	}
}

func TestBusinessDays(t *testing.T) {
	t.Parallel()
	sat := time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC)
	sun := sat.AddDate(0, 0, 1)
	mon := sat.AddDate(0, 0, 2)

	if !IsWeekend(sat) || !IsWeekend(sun) {
		t.Fatal("Sat/Sun should be weekend")
	}
	if IsWeekend(mon) {
		t.Fatal("Mon should not be weekend")
	}
	if IsBusinessDay(sat) || !IsBusinessDay(mon) {
		t.Fatal("IsBusinessDay mismatch")
	}
}
