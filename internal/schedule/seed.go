package schedule

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/watzon/dockd/internal/model"
)

// Seed is the on-disk YAML format used to import schedules and journal history.
type Seed struct {
	Schedules []SeedSchedule       `yaml:"schedules"`
	Journals  []model.EventJournal `yaml:"journals"`
}

// SeedSchedule is the YAML form of a Schedule.
type SeedSchedule struct {
	Name           string            `yaml:"name"`
	EventCode      string            `yaml:"event_code"`
	Recurrence     string            `yaml:"recurrence"`
	Enabled        *bool             `yaml:"enabled"`
	Interval       int               `yaml:"interval"`
	StartDate      string            `yaml:"start_date"`
	RunAt          string            `yaml:"run_at"`
	Weekdays       []string          `yaml:"weekdays"`
	DayOfMonth     int               `yaml:"day_of_month"`
	SerialNumbers  []string          `yaml:"serial_numbers"`
	EquipmentType  string            `yaml:"equipment_type"`
	ComponentCodes []string          `yaml:"component_codes"`
	Properties     map[string]string `yaml:"properties"`
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseSeedFile reads and parses a seed file.
func ParseSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed parses YAML seed data.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}
	return &seed, nil
}

// Build converts a seed schedule into a validated Schedule.
func (ss SeedSchedule) Build() (*Schedule, error) {
	code, ok := model.LookupEventCode(ss.EventCode)
	if !ok {
		return nil, fmt.Errorf("schedule %q: unknown event code %q", ss.Name, ss.EventCode)
	}

	s := &Schedule{
		Name:           ss.Name,
		EventCode:      code,
		Recurrence:     Recurrence(strings.ToLower(ss.Recurrence)),
		Enabled:        ss.Enabled == nil || *ss.Enabled,
		Interval:       ss.Interval,
		DayOfMonth:     ss.DayOfMonth,
		SerialNumbers:  ss.SerialNumbers,
		EquipmentType:  ss.EquipmentType,
		ComponentCodes: ss.ComponentCodes,
		Properties:     ss.Properties,
	}

	if ss.StartDate != "" {
		d, err := time.Parse(time.DateOnly, ss.StartDate)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: parsing start_date: %w", ss.Name, err)
		}
		s.StartDate = d
	}
	if ss.RunAt != "" {
		t, err := ParseTimeOfDay(ss.RunAt)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", ss.Name, err)
		}
		s.RunAt = &t
	}
	for _, name := range ss.Weekdays {
		d, ok := weekdayNames[strings.ToLower(name)[:min(3, len(name))]]
		if !ok {
			return nil, fmt.Errorf("schedule %q: unknown weekday %q", ss.Name, name)
		}
		s.Weekdays = append(s.Weekdays, d)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// BuildAll converts every seed schedule, stopping at the first invalid one.
func (seed *Seed) BuildAll() ([]*Schedule, error) {
	out := make([]*Schedule, 0, len(seed.Schedules))
	for _, ss := range seed.Schedules {
		s, err := ss.Build()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
