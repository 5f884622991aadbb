// Package schedule describes recurring maintenance schedules and the
// interval arithmetic used to decide when each one is next due.
package schedule

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/watzon/dockd/internal/model"
)

// Recurrence is the shape of a schedule's repetition.
type Recurrence string

const (
	// RecurrenceUponDocking runs once every time an instrument is docked.
	RecurrenceUponDocking Recurrence = "upon_docking"
	// RecurrenceOnce runs a single time at its start instant.
	RecurrenceOnce Recurrence = "once"
	// RecurrenceHourly runs every Interval hours.
	RecurrenceHourly Recurrence = "hourly"
	// RecurrenceDaily runs every Interval days.
	RecurrenceDaily Recurrence = "daily"
	// RecurrenceWeekly runs on the listed weekdays every Interval weeks.
	RecurrenceWeekly Recurrence = "weekly"
	// RecurrenceMonthly runs on DayOfMonth every Interval months.
	RecurrenceMonthly Recurrence = "monthly"
	// RecurrenceNow is always due. It is only used for forced requests.
	RecurrenceNow Recurrence = "now"
)

// Valid reports whether r is a known recurrence.
func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceUponDocking, RecurrenceOnce, RecurrenceHourly, RecurrenceDaily,
		RecurrenceWeekly, RecurrenceMonthly, RecurrenceNow:
		return true
	}
	return false
}

// TimeOfDay is a local wall-clock time.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses an "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("parsing time of day %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("parsing time of day %q: invalid hour", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("parsing time of day %q: invalid minute", s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Schedule is a recurring (or one-shot) request to run an event code.
type Schedule struct {
	RefID          int64           // 0 for schedules that are never persisted
	Name           string          // Display name
	EventCode      model.EventCode // What to run
	Recurrence     Recurrence      // Repetition shape
	Enabled        bool            // Disabled schedules are ignored
	Interval       int             // Every N hours/days/weeks/months (0 means 1)
	StartDate      time.Time       // Local start date, zero for "immediately"
	RunAt          *TimeOfDay      // Local time of day, nil for "any time"
	Weekdays       []time.Weekday  // Weekly only
	DayOfMonth     int             // Monthly only (0 means the day of the last run)
	SerialNumbers  []string        // Equipment the schedule is assigned to, empty for global
	EquipmentType  string          // Global schedules restricted to one instrument family
	ComponentCodes []string        // Sensor types; empty means the whole instrument or station
	Properties     map[string]string
}

// NewNow builds a transient always-due schedule targeting the given serial numbers.
func NewNow(code model.EventCode, serials ...string) *Schedule {
	return &Schedule{
		Name:          "now",
		EventCode:     code,
		Recurrence:    RecurrenceNow,
		Enabled:       true,
		SerialNumbers: slices.Clone(serials),
	}
}

// Persisted reports whether the schedule has a stored identity.
func (s *Schedule) Persisted() bool {
	return s.RefID != 0
}

// SensorSpecific reports whether the schedule is restricted to sensor types.
func (s *Schedule) SensorSpecific() bool {
	return len(s.ComponentCodes) > 0
}

// Global reports whether the schedule is not assigned to specific equipment.
func (s *Schedule) Global() bool {
	return len(s.SerialNumbers) == 0
}

// AssignedTo reports whether any of the serial numbers is in the schedule's assignment.
func (s *Schedule) AssignedTo(serials ...string) bool {
	for _, sn := range serials {
		if slices.Contains(s.SerialNumbers, sn) {
			return true
		}
	}
	return false
}

// Property returns a schedule property.
func (s *Schedule) Property(key string) string {
	if s.Properties == nil {
		return ""
	}
	return s.Properties[key]
}

func (s *Schedule) interval() int {
	if s.Interval < 1 {
		return 1
	}
	return s.Interval
}

// Validate checks the schedule's recurrence fields.
func (s *Schedule) Validate() error {
	if s.EventCode.IsZero() {
		return fmt.Errorf("schedule %q: event code is required", s.Name)
	}
	if !s.Recurrence.Valid() {
		return fmt.Errorf("schedule %q: unknown recurrence %q", s.Name, s.Recurrence)
	}
	if s.Interval < 0 {
		return fmt.Errorf("schedule %q: interval must be non-negative", s.Name)
	}
	switch s.Recurrence {
	case RecurrenceWeekly:
		if _, err := s.weeklySpec(); err != nil {
			return fmt.Errorf("schedule %q: %w", s.Name, err)
		}
	case RecurrenceMonthly:
		if s.DayOfMonth < 0 || s.DayOfMonth > 31 {
			return fmt.Errorf("schedule %q: day_of_month must be between 1 and 31", s.Name)
		}
	}
	return nil
}
