package tasks

import (
	"strings"
	"time"

	"github.com/sheikh-saqib/stakes-ledger/internal/errs"
	"github.com/sheikh-saqib/stakes-ledger/internal/timewindow"
)

// Row is one line of an ad-hoc batch as entered by a member.
type Row struct {
	Title string
	Stake int64
	// Day is an offset 0..6 from the week start; week batches only.
	Day *int
}

// PlanToday turns rows into tasks due at the end of the current day.
// Rows with a blank title are skipped.
func PlanToday(cal timewindow.Calendar, now time.Time, rows []Row) []NewTask {
	due := cal.EndOfDay(now)
	var out []NewTask
	for _, r := range rows {
		if strings.TrimSpace(r.Title) == "" {
			continue
		}
		out = append(out, NewTask{Title: r.Title, Stake: r.Stake, DueAt: due})
	}
	return out
}

// PlanWeek turns rows into tasks for the current week: a row with Day is due
// at the end of that day, any other row at the end of the week.
func PlanWeek(cal timewindow.Calendar, now time.Time, rows []Row) ([]NewTask, error) {
	weekEnd := cal.EndOfWeek(now)
	var out []NewTask
	for _, r := range rows {
		if strings.TrimSpace(r.Title) == "" {
			continue
		}
		due := weekEnd
		if r.Day != nil {
			if *r.Day < 0 || *r.Day > 6 {
				return nil, errs.New(errs.InvalidInput, "day must be between 0 and 6, got %d", *r.Day)
			}
			due = cal.EndOfDay(cal.DayOfWeek(now, *r.Day))
		}
		out = append(out, NewTask{Title: r.Title, Stake: r.Stake, DueAt: due})
	}
	return out, nil
}

// Recurrence of a task template.
type Recurrence string

const (
	Daily  Recurrence = "DAILY"
	Weekly Recurrence = "WEEKLY"
)

// NextOccurrence places the first instance of a recurring template. Daily
// templates are due at the end of today; weekly ones at the end of the given
// weekday offset of the current week, pushed a week ahead once that moment passed.
func NextOccurrence(cal timewindow.Calendar, now time.Time, recurrence Recurrence, weekday int) (time.Time, error) {
	switch recurrence {
	case Daily:
		return cal.EndOfDay(now), nil
	case Weekly:
		if weekday < 0 || weekday > 6 {
			return time.Time{}, errs.New(errs.InvalidInput, "weekday must be between 0 and 6, got %d", weekday)
		}
		due := cal.EndOfDay(cal.DayOfWeek(now, weekday))
		if due.Before(now) {
			due = due.AddDate(0, 0, 7)
		}
		return due, nil
	default:
		return time.Time{}, errs.New(errs.InvalidInput, "unknown recurrence %q", recurrence)
	}
}
