package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Never is returned for schedules that will not come due again.
var Never = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

var weeklyParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRunTime returns when the schedule is next due given the last time it ran.
// The result is always strictly after lastRun.
func (s *Schedule) NextRunTime(lastRun, docked time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}

	switch s.Recurrence {
	case RecurrenceUponDocking:
		if lastRun.Before(docked) {
			return docked
		}
		return Never

	case RecurrenceOnce:
		return Never

	case RecurrenceHourly:
		return lastRun.Add(time.Duration(s.interval()) * time.Hour)

	case RecurrenceDaily:
		if s.RunAt == nil {
			return lastRun.Add(time.Duration(s.interval()) * 24 * time.Hour)
		}
		l := lastRun.In(loc)
		next := time.Date(l.Year(), l.Month(), l.Day()+s.interval(), s.RunAt.Hour, s.RunAt.Minute, 0, 0, loc)
		return after(next, lastRun)

	case RecurrenceWeekly:
		return after(s.weeklyNext(lastRun, loc), lastRun)

	case RecurrenceMonthly:
		return after(s.monthlyNext(lastRun, loc), lastRun)

	case RecurrenceNow:
		return lastRun.Add(time.Nanosecond)
	}

	return Never
}

// FirstRunTime returns when a schedule that has never run becomes due.
func (s *Schedule) FirstRunTime(docked time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}

	start := s.startInstant(loc)
	switch s.Recurrence {
	case RecurrenceUponDocking, RecurrenceNow:
		return docked
	case RecurrenceOnce:
		if start.IsZero() {
			return docked
		}
		return start
	}

	if start.After(docked) {
		return start
	}
	return docked
}

// IsOverdue reports whether a schedule with the given next run time is due at now.
func (s *Schedule) IsOverdue(nextRun, now time.Time) bool {
	return !now.Before(nextRun)
}

func (s *Schedule) startInstant(loc *time.Location) time.Time {
	if s.StartDate.IsZero() {
		return time.Time{}
	}
	// StartDate is a calendar date; its fields are read as-is in loc.
	d := s.StartDate
	if s.RunAt == nil {
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), s.RunAt.Hour, s.RunAt.Minute, 0, 0, loc)
}

func (s *Schedule) weeklySpec() (cron.Schedule, error) {
	runAt := TimeOfDay{}
	if s.RunAt != nil {
		runAt = *s.RunAt
	}

	days := make([]string, 0, len(s.Weekdays))
	for _, d := range s.Weekdays {
		days = append(days, strconv.Itoa(int(d)))
	}
	dow := "*"
	if len(days) > 0 {
		dow = strings.Join(days, ",")
	}

	spec, err := weeklyParser.Parse(fmt.Sprintf("%d %d * * %s", runAt.Minute, runAt.Hour, dow))
	if err != nil {
		return nil, fmt.Errorf("parsing weekly recurrence: %w", err)
	}
	return spec, nil
}

// weeklyNext finds the next listed weekday after lastRun. Once the candidate rolls
// into a new week, Interval-1 whole weeks are skipped.
func (s *Schedule) weeklyNext(lastRun time.Time, loc *time.Location) time.Time {
	if len(s.Weekdays) == 0 {
		// No days listed: same weekday as the last run.
		s = s.withWeekday(lastRun.In(loc).Weekday())
	}
	spec, err := s.weeklySpec()
	if err != nil {
		return lastRun.Add(time.Duration(s.interval()) * 7 * 24 * time.Hour)
	}

	l := lastRun.In(loc)
	next := spec.Next(l)
	if s.interval() > 1 && !weekStart(next, loc).Equal(weekStart(l, loc)) {
		skipTo := weekStart(l, loc).AddDate(0, 0, 7*s.interval()).Add(-time.Second)
		next = spec.Next(skipTo)
	}
	return next
}

func (s *Schedule) withWeekday(d time.Weekday) *Schedule {
	c := *s
	c.Weekdays = []time.Weekday{d}
	return &c
}

func (s *Schedule) monthlyNext(lastRun time.Time, loc *time.Location) time.Time {
	l := lastRun.In(loc)
	hour, minute := l.Hour(), l.Minute()
	if s.RunAt != nil {
		hour, minute = s.RunAt.Hour, s.RunAt.Minute
	}

	first := time.Date(l.Year(), l.Month()+time.Month(s.interval()), 1, hour, minute, 0, 0, loc)
	day := s.anchorDay(l)
	if last := daysIn(first); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

// anchorDay is the day of month a monthly schedule runs on. Without an explicit
// day it keeps the start date's day, so a run clamped to a short month does not
// move later runs.
func (s *Schedule) anchorDay(lastRun time.Time) int {
	switch {
	case s.DayOfMonth > 0:
		return s.DayOfMonth
	case !s.StartDate.IsZero():
		return s.StartDate.Day()
	}
	return lastRun.Day()
}

func weekStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day()-int(t.Weekday()), 0, 0, 0, 0, loc)
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// after guards the strictly-after contract against DST folds.
func after(next, lastRun time.Time) time.Time {
	if next.After(lastRun) {
		return next
	}
	return lastRun.Add(time.Minute)
}
