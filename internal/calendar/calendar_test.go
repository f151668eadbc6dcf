package calendar

import (
	"testing"
	"time"
)

func TestWeekStartIsMonday(t *testing.T) {
	loc := Load("Asia/Shanghai")
	// Sunday 2025-02-09 23:30 local.
	sunday := time.Date(2025, 2, 9, 23, 30, 0, 0, loc)
	got := WeekStart(sunday, loc)
	want := time.Date(2025, 2, 3, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("WeekStart = %v, want %v", got, want)
	}
	if f := Friday(sunday, loc, 18); !f.Equal(time.Date(2025, 2, 7, 18, 0, 0, 0, loc)) {
		t.Fatalf("Friday = %v", f)
	}
}

func TestDayUsesBusinessZone(t *testing.T) {
	loc := Load("Asia/Shanghai")
	// 17:00 UTC is 01:00 the next day in Shanghai.
	at := time.Date(2025, 3, 31, 17, 0, 0, 0, time.UTC)
	if key := DayKey(at, loc); key != "2025-04-01" {
		t.Fatalf("DayKey = %q, want 2025-04-01", key)
	}
	if key := QuarterKey(at, loc); key != "2025Q2" {
		t.Fatalf("QuarterKey = %q, want 2025Q2", key)
	}
	r := Day(at, loc)
	if !r.Contains(at) || r.Contains(r.To) {
		t.Fatalf("Day range %v does not contain its instant", r)
	}
}

func TestKeys(t *testing.T) {
	loc := time.UTC
	at := time.Date(2025, 2, 5, 10, 0, 0, 0, loc)
	if got := WeekKey(at, loc); got != "2025-W06" {
		t.Fatalf("WeekKey = %q", got)
	}
	if got := MonthKey(at, loc); got != "2025-02" {
		t.Fatalf("MonthKey = %q", got)
	}
	if got := QuarterStart(at, loc); !got.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, loc)) {
		t.Fatalf("QuarterStart = %v", got)
	}
}

func TestOverdueWaitsForLocalMidnight(t *testing.T) {
	loc := Load("Asia/Shanghai")
	end := time.Date(2025, 1, 6, 0, 0, 0, 0, loc)
	for _, tc := range []struct {
		now  time.Time
		want bool
	}{
		{time.Date(2025, 1, 6, 10, 0, 0, 0, loc), false},
		{time.Date(2025, 1, 6, 23, 59, 0, 0, loc), false},
		// 16:30 UTC on the 6th is already the 7th in Shanghai.
		{time.Date(2025, 1, 6, 16, 30, 0, 0, time.UTC), true},
	} {
		if got := Overdue(&end, tc.now, loc); got != tc.want {
			t.Errorf("Overdue(%v) = %v, want %v", tc.now, got, tc.want)
		}
	}
	if Overdue(nil, end.AddDate(1, 0, 0), loc) {
		t.Error("open end reported overdue")
	}
}
