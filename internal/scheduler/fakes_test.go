package scheduler

import (
	"context"
	"slices"
	"time"

	"github.com/watzon/dockd/internal/dock"
	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/schedule"
)

type memSchedules struct {
	all []*schedule.Schedule
}

func (m *memSchedules) FindBySerialNumbers(_ context.Context, serials []string) ([]*schedule.Schedule, error) {
	var out []*schedule.Schedule
	for _, s := range m.all {
		if !s.Global() && s.AssignedTo(serials...) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSchedules) FindGlobalSchedules(context.Context) ([]*schedule.Schedule, error) {
	var out []*schedule.Schedule
	for _, s := range m.all {
		if s.Global() && s.EquipmentType == "" && !s.SensorSpecific() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSchedules) FindGlobalTypeSpecificSchedules(_ context.Context, equipmentType string) ([]*schedule.Schedule, error) {
	var out []*schedule.Schedule
	for _, s := range m.all {
		if s.Global() && s.EquipmentType == equipmentType && !s.SensorSpecific() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSchedules) FindByComponentCodes(_ context.Context, codes []string) ([]*schedule.Schedule, error) {
	var out []*schedule.Schedule
	for _, s := range m.all {
		if s.Global() && overlaps(s.ComponentCodes, codes) {
			out = append(out, s)
		}
	}
	return out, nil
}

type memJournals struct {
	all model.Journals
}

func (m *memJournals) FindBySerialNumbers(_ context.Context, serials []string) (model.Journals, error) {
	var out model.Journals
	for _, j := range m.all {
		if slices.Contains(serials, j.SerialNumber) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memJournals) FindLastEventByInstrumentSerialNumber(_ context.Context, serial, code string) (model.Journals, error) {
	var latest time.Time
	for _, j := range m.all {
		if j.InstrumentSerialNumber == serial && j.EventCode == code && j.RunTime.After(latest) {
			latest = j.RunTime
		}
	}
	var out model.Journals
	for _, j := range m.all {
		if j.InstrumentSerialNumber == serial && j.EventCode == code && j.RunTime.Equal(latest) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memJournals) record(js ...model.EventJournal) {
	m.all = append(m.all, js...)
}

type fixedState struct {
	snap dock.Snapshot
}

func (f *fixedState) Snapshot() dock.Snapshot {
	s := f.snap
	s.Instrument = f.snap.Instrument.Clone()
	return s
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

type harness struct {
	sched    *Scheduler
	state    *fixedState
	clock    *clock
	schedule *memSchedules
	journals *memJournals
}

var t0 = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func mx6() *model.Instrument {
	return &model.Instrument{
		SerialNumber:    "MX6-0001",
		Type:            model.InstrumentMX6,
		SoftwareVersion: "4.2",
		Sensors: []model.Sensor{
			{SerialNumber: "S-CO", ComponentCode: "S0001", GasCode: "G0001", Symbol: "CO", Position: 1, Enabled: true, BumpTestPassed: true},
			{SerialNumber: "S-O2", ComponentCode: "S0020", GasCode: model.GasO2, Symbol: "O2", Position: 2, Enabled: true, BumpTestPassed: true},
		},
	}
}

func newHarness(inst *model.Instrument, schedules ...*schedule.Schedule) *harness {
	h := &harness{
		state: &fixedState{snap: dock.Snapshot{
			Station: model.Station{
				SerialNumber:   "DS-0001",
				InstrumentType: model.InstrumentMX6,
				Activated:      true,
				AvailableGases: []string{"G0001", model.GasO2},
			},
			Instrument:             inst,
			DockedTime:             t0,
			Synchronized:           true,
			InstrumentSettingsRead: inst != nil,
			ServerConnected:        true,
		}},
		clock:    &clock{now: t0},
		schedule: &memSchedules{all: schedules},
		journals: &memJournals{},
	}
	h.sched = New(h.schedule, h.journals, h.state, WithClock(h.clock.Now))
	return h
}

func daily(code model.EventCode) *schedule.Schedule {
	return &schedule.Schedule{
		RefID:      1,
		Name:       "daily " + code.Code,
		EventCode:  code,
		Recurrence: schedule.RecurrenceDaily,
		Enabled:    true,
		Interval:   1,
	}
}

func journalsFor(inst *model.Instrument, code model.EventCode, at time.Time, passed bool) []model.EventJournal {
	var out []model.EventJournal
	for _, s := range inst.Sensors {
		out = append(out, model.EventJournal{
			EventCode:              code.Code,
			SerialNumber:           s.SerialNumber,
			InstrumentSerialNumber: inst.SerialNumber,
			RunTime:                at,
			Passed:                 passed,
			SoftwareVersion:        inst.SoftwareVersion,
			Position:               s.Position,
		})
	}
	return out
}
