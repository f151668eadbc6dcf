// Package calendar does day, week, month and quarter arithmetic in the
// business time zone.
package calendar

import (
	"fmt"
	"time"
)

// DefaultZone is used when no zone is configured.
const DefaultZone = "Asia/Shanghai"

// Load resolves name, falling back to a fixed UTC+8 zone when the tz
// database is unavailable.
func Load(name string) *time.Location {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}

// DayStart is local midnight of t.
func DayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// OverdueCutoff is the instant an end date must precede to count as
// overdue at now. Anything ending today is still on time.
func OverdueCutoff(now time.Time, loc *time.Location) time.Time {
	return DayStart(now, loc).UTC()
}

// Overdue reports whether end's local day has passed at now.
func Overdue(end *time.Time, now time.Time, loc *time.Location) bool {
	return end != nil && end.Before(OverdueCutoff(now, loc))
}

// At is the given local wall time on t's calendar day.
func At(t time.Time, loc *time.Location, hour, minute int) time.Time {
	return DayStart(t, loc).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// WeekStart is local Monday midnight of t's week.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	day := DayStart(t, loc)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// MonthStart is local midnight of the first of t's month.
func MonthStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

// QuarterStart is local midnight of the first day of t's quarter.
func QuarterStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	month := time.Month((int(t.Month())-1)/3*3 + 1)
	return time.Date(t.Year(), month, 1, 0, 0, 0, 0, loc)
}

// Quarter is the 1-based quarter of t.
func Quarter(t time.Time, loc *time.Location) int {
	return (int(t.In(loc).Month())-1)/3 + 1
}

// Friday is hour:00 local time on the Friday of t's week.
func Friday(t time.Time, loc *time.Location, hour int) time.Time {
	return At(WeekStart(t, loc).AddDate(0, 0, 4), loc, hour, 0)
}

// Range is a half-open local interval [From, To).
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside r.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// Day is the local day containing t.
func Day(t time.Time, loc *time.Location) Range {
	from := DayStart(t, loc)
	return Range{From: from, To: from.AddDate(0, 0, 1)}
}

// Week is the local Monday-based week containing t.
func Week(t time.Time, loc *time.Location) Range {
	from := WeekStart(t, loc)
	return Range{From: from, To: from.AddDate(0, 0, 7)}
}

// Month is the local month containing t.
func Month(t time.Time, loc *time.Location) Range {
	from := MonthStart(t, loc)
	return Range{From: from, To: from.AddDate(0, 1, 0)}
}

// DayKey formats t's local date, as used in period keys.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// WeekKey is the ISO week of t, e.g. 2025-W06.
func WeekKey(t time.Time, loc *time.Location) string {
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// MonthKey is t's local month, e.g. 2025-02.
func MonthKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01")
}

// QuarterKey is t's local quarter, e.g. 2025Q2.
func QuarterKey(t time.Time, loc *time.Location) string {
	return fmt.Sprintf("%dQ%d", t.In(loc).Year(), Quarter(t, loc))
}
