// Package timewindow holds the only week and deadline arithmetic in the
// module. Task scheduling, quota lookup and weekly aggregation all go through
// one Calendar so they agree on where a week begins.
package timewindow

import (
	"fmt"
	"strings"
	"time"

	"github.com/sheikh-saqib/stakes-ledger/internal/models"
)

// Calendar fixes the week-start weekday and the location days are cut in.
//
// Week numbering: week 1 of a year is the week containing January 1st, and
// a week belongs to the year its last day falls in.
type Calendar struct {
	WeekStart time.Weekday
	Location  *time.Location
}

// NewCalendar returns a calendar; a nil location means UTC.
func NewCalendar(weekStart time.Weekday, loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{WeekStart: weekStart, Location: loc}
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c Calendar) StartOfDay(t time.Time) time.Time {
	t = t.In(c.loc())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc())
}

// EndOfDay is the last millisecond of t's day.
func (c Calendar) EndOfDay(t time.Time) time.Time {
	t = t.In(c.loc())
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), c.loc())
}

func (c Calendar) StartOfWeek(t time.Time) time.Time {
	day := c.StartOfDay(t)
	diff := (int(day.Weekday()) - int(c.WeekStart) + 7) % 7
	return time.Date(day.Year(), day.Month(), day.Day()-diff, 0, 0, 0, 0, c.loc())
}

func (c Calendar) EndOfWeek(t time.Time) time.Time {
	return c.EndOfDay(c.StartOfWeek(t).AddDate(0, 0, 6))
}

// WeekOf returns the key of the week containing t.
func (c Calendar) WeekOf(t time.Time) models.WeekKey {
	start := c.StartOfWeek(t)
	year := start.AddDate(0, 0, 6).Year()
	first := c.StartOfWeek(time.Date(year, time.January, 1, 0, 0, 0, 0, c.loc()))
	return models.WeekKey{Year: year, Week: daysBetween(first, start)/7 + 1}
}

// Week is a closed interval [Start, End] plus its key.
type Week struct {
	Key   models.WeekKey
	Start time.Time
	End   time.Time
}

func (c Calendar) WeekContaining(t time.Time) Week {
	start := c.StartOfWeek(t)
	return Week{Key: c.WeekOf(start), Start: start, End: c.EndOfWeek(start)}
}

// PreviousWeek is the full week before the one containing now.
func (c Calendar) PreviousWeek(now time.Time) Week {
	return c.WeekContaining(c.StartOfWeek(now).AddDate(0, 0, -7))
}

// DayOfWeek returns the start of the day offset days after the week start.
func (c Calendar) DayOfWeek(t time.Time, offset int) time.Time {
	return c.StartOfWeek(t).AddDate(0, 0, offset)
}

// daysBetween counts calendar days, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// GraceDeadline is the last instant a task due at dueAt may still be completed.
func GraceDeadline(dueAt time.Time, graceMinutes int) time.Time {
	return dueAt.Add(time.Duration(graceMinutes) * time.Minute)
}

// PastGrace reports whether now is strictly after the grace deadline.
// Completion at exactly the deadline still counts.
func PastGrace(now, dueAt time.Time, graceMinutes int) bool {
	return now.After(GraceDeadline(dueAt, graceMinutes))
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}
