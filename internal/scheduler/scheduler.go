// Package scheduler decides the single next action the docking station should
// run. Decisions combine recurring schedules, event journals, requirements derived
// from the docked instrument, and forced "run now" requests.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/dockd/internal/action"
	"github.com/watzon/dockd/internal/dock"
	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/schedule"
)

// Scheduler computes next actions. GetNextAction calls are serialized; the forced
// queue may be pushed to from any goroutine.
type Scheduler struct {
	schedules ScheduleRepository
	journals  JournalRepository
	state     StateReader
	forced    *ForcedQueue
	now       func() time.Time

	calStation          []*schedule.Schedule
	dualSenseMinVersion string

	mu      sync.Mutex
	req     Requirements
	session session
	nextDue map[string]time.Time
}

type session struct {
	serial string
	docked time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithForcedQueue shares an existing forced queue.
func WithForcedQueue(q *ForcedQueue) Option {
	return func(s *Scheduler) {
		s.forced = q
	}
}

// WithCalStationSchedules replaces the schedules used while the station is not activated.
func WithCalStationSchedules(schedules ...*schedule.Schedule) Option {
	return func(s *Scheduler) {
		s.calStation = schedules
	}
}

// WithDualSenseMinVersion sets the instrument firmware from which a DualSense pair
// that has drifted apart is bumped immediately on docking.
func WithDualSenseMinVersion(v string) Option {
	return func(s *Scheduler) {
		s.dualSenseMinVersion = v
	}
}

// DefaultCalStationSchedule calibrates every instrument when it is docked.
func DefaultCalStationSchedule() *schedule.Schedule {
	return &schedule.Schedule{
		Name:       "Calibrate on docking",
		EventCode:  model.Calibration,
		Recurrence: schedule.RecurrenceUponDocking,
		Enabled:    true,
	}
}

// New creates a scheduler.
func New(schedules ScheduleRepository, journals JournalRepository, state StateReader, opts ...Option) *Scheduler {
	s := &Scheduler{
		schedules:  schedules,
		journals:   journals,
		state:      state,
		forced:     NewForcedQueue(),
		now:        time.Now,
		calStation: []*schedule.Schedule{DefaultCalStationSchedule()},
		nextDue:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Forced returns the forced-event queue.
func (s *Scheduler) Forced() *ForcedQueue {
	return s.forced
}

// ForceEvent requests that code run as soon as possible against the equipment
// currently present. High-priority requests are stacked ahead of waiting entries,
// except gas operations, which are always queued so a missing cylinder cannot
// block unrelated forced work.
func (s *Scheduler) ForceEvent(code model.EventCode, highPriority bool) {
	snap := s.state.Snapshot()

	var serials []string
	switch {
	case !code.IsInstrument():
		serials = []string{snap.Station.SerialNumber}
	case snap.Instrument != nil:
		serials = []string{snap.Instrument.SerialNumber}
	}

	e := ForcedEntry{
		Schedule:     schedule.NewNow(code, serials...),
		HighPriority: highPriority && !code.GasOperation,
		QueuedAt:     s.now(),
	}
	if e.HighPriority {
		s.forced.Stack(e)
	} else {
		s.forced.Queue(e)
	}

	log.Info().
		Str("code", code.Code).
		Strs("serials", serials).
		Bool("stacked", e.HighPriority).
		Msg("Forced event requested")
}

// ReforceEvent puts a forced gas operation that could not finish back on the
// queue. Only forced calibrations and bump tests are re-queued, and an entry that
// is already waiting is not duplicated. It reports whether anything was queued.
func (s *Scheduler) ReforceEvent(a *action.Action) bool {
	if a == nil || a.Trigger != action.TriggerForced || !a.IsGasOperation() {
		return false
	}

	sched := schedule.NewNow(a.EventCode, a.InstrumentSerial())
	sched.ComponentCodes = slices.Clone(a.ComponentCodes)
	added := s.forced.QueueUnique(ForcedEntry{Schedule: sched, QueuedAt: s.now()})
	if added {
		log.Info().
			Str("code", a.EventCode.Code).
			Str("instrument", a.InstrumentSerial()).
			Msg("Forced event re-queued")
	}
	return added
}

// ClearQueuedActions drops every forced request and returns how many were removed.
func (s *Scheduler) ClearQueuedActions() int {
	n := s.forced.Clear()
	if n > 0 {
		log.Info().Int("count", n).Msg("Forced queue cleared")
	}
	return n
}

// NextDue returns the earliest future run time seen for an event code.
func (s *Scheduler) NextDue(code string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.nextDue[code]
	return t, ok
}

// Requirements returns the requirements latched for the current docking session.
func (s *Scheduler) Requirements() Requirements {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req
}

// GetNextAction returns the single next action given the event just reported.
// last may be nil. The result is never nil. The only error returned is a
// *model.SystemAlarmError, alongside a nothing action; any other problem is
// logged and resolves to the nothing action.
func (s *Scheduler) GetNextAction(ctx context.Context, last *action.Event) (*action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.state.Snapshot()
	s.startSession(snap)
	s.req.Observe(last)

	d := &decision{
		s:        s,
		snap:     snap,
		inst:     snap.Instrument,
		now:      s.now(),
		loc:      snap.Location(),
		req:      &s.req,
		nextDue:  make(map[string]time.Time),
		examined: make(map[string]bool),
	}

	a, err := s.decide(ctx, d, last)

	for code := range d.examined {
		if t, ok := d.nextDue[code]; ok {
			s.nextDue[code] = t
		} else {
			delete(s.nextDue, code)
		}
	}

	if err != nil {
		log.Warn().Err(err).Msg("Scheduler refused to schedule")
		return action.Nothing(), err
	}
	if a == nil {
		a = action.Nothing()
	}

	log.Debug().
		Str("action", a.String()).
		Str("trigger", string(a.Trigger)).
		Str("code", a.EventCode.Code).
		Strs("component_codes", a.ComponentCodes).
		Msg("Next action chosen")
	return a, nil
}

// startSession resets derived requirements whenever a different instrument is
// docked or the same one is re-docked.
func (s *Scheduler) startSession(snap dock.Snapshot) {
	var cur session
	if snap.Instrument != nil {
		cur = session{serial: snap.Instrument.SerialNumber, docked: snap.DockedTime}
	}
	if cur.serial == s.session.serial && cur.docked.Equal(s.session.docked) {
		return
	}
	s.session = cur
	s.req = Requirements{}
}

func (s *Scheduler) decide(ctx context.Context, d *decision, last *action.Event) (*action.Action, error) {
	if !d.snap.Synchronized {
		log.Debug().Msg("Station configuration not synchronized")
		return nil, nil
	}
	if d.snap.Docked() && !d.snap.InstrumentSettingsRead {
		log.Debug().Msg("Instrument settings not read yet")
		return nil, nil
	}

	if last != nil && last.FollowUp != nil {
		return last.FollowUp, nil
	}

	if err := s.load(ctx, d); err != nil {
		log.Error().Err(err).Msg("Failed to load scheduling data")
		return nil, nil
	}

	if d.inst != nil {
		d.fwOverdue = d.instrumentFirmwareOverdue()
		if d.inst.SystemAlarm && !d.fwOverdue {
			return nil, &model.SystemAlarmError{SerialNumber: d.inst.SerialNumber}
		}
		if !d.fwOverdue {
			if a := d.manualActionRequired(); a != nil {
				return a, nil
			}
		}
		d.deriveRequirements()
	}

	if a := s.popForced(d); a != nil {
		return a, nil
	}

	if d.inst != nil {
		if a := d.calibrationFailureAction(); a != nil {
			return a, nil
		}
		if a := d.bumpFailureAction(); a != nil {
			return a, nil
		}
	}

	return d.scheduledAction(), nil
}

// load refreshes schedules and journals for the station, the docked instrument
// and its sensors.
func (s *Scheduler) load(ctx context.Context, d *decision) error {
	var serials, codes []string
	if sn := d.snap.Station.SerialNumber; sn != "" {
		serials = append(serials, sn)
	}
	if d.inst != nil {
		serials = append(serials, d.inst.SerialNumbers()...)
		codes = d.inst.ComponentCodes()
	}

	if d.snap.Station.Activated {
		var all []*schedule.Schedule

		assigned, err := s.schedules.FindBySerialNumbers(ctx, serials)
		if err != nil {
			return fmt.Errorf("loading assigned schedules: %w", err)
		}
		all = append(all, assigned...)

		global, err := s.schedules.FindGlobalSchedules(ctx)
		if err != nil {
			return fmt.Errorf("loading global schedules: %w", err)
		}
		all = append(all, global...)

		if d.inst != nil {
			typed, err := s.schedules.FindGlobalTypeSpecificSchedules(ctx, string(d.inst.Type))
			if err != nil {
				return fmt.Errorf("loading %s schedules: %w", d.inst.Type, err)
			}
			all = append(all, typed...)

			if len(codes) > 0 {
				bySensor, err := s.schedules.FindByComponentCodes(ctx, codes)
				if err != nil {
					return fmt.Errorf("loading sensor schedules: %w", err)
				}
				all = append(all, bySensor...)
			}
		}
		d.schedules = dedupe(all)
	} else {
		d.schedules = s.calStation
	}

	journals, err := s.journals.FindBySerialNumbers(ctx, serials)
	if err != nil {
		return fmt.Errorf("loading journals: %w", err)
	}
	d.journals = journals

	if d.inst != nil {
		lastCal, err := s.journals.FindLastEventByInstrumentSerialNumber(ctx, d.inst.SerialNumber, model.Calibration.Code)
		if err != nil {
			return fmt.Errorf("loading last calibration: %w", err)
		}
		d.lastCal = lastCal
	}
	return nil
}

// popForced drains the forced queue until an entry can run against the
// equipment currently present.
func (s *Scheduler) popForced(d *decision) *action.Action {
	for {
		e, ok := s.forced.Pop()
		if !ok {
			return nil
		}
		code := e.Schedule.EventCode

		a := action.ForCode(code, action.TriggerForced, e.Schedule, d.inst)
		if a == nil {
			log.Warn().Str("code", code.Code).Msg("Dropping forced event with no operation")
			continue
		}
		if !code.IsInstrument() {
			return a
		}

		switch {
		case d.inst == nil:
			log.Info().Str("code", code.Code).Msg("Dropping forced event, nothing docked")
			continue
		case !e.Schedule.AssignedTo(d.inst.SerialNumber):
			log.Info().Str("code", code.Code).Strs("serials", e.Schedule.SerialNumbers).
				Str("docked", d.inst.SerialNumber).Msg("Dropping forced event for another instrument")
			continue
		case !d.inst.Type.Known() || !d.inst.Type.Supports(code):
			log.Info().Str("code", code.Code).Str("type", string(d.inst.Type)).
				Msg("Dropping forced event unsupported by instrument")
			continue
		}

		if code.Code == model.BumpTest.Code {
			if fa := d.calibrationFailureAction(); fa != nil {
				return fa
			}
		}
		return a
	}
}

func dedupe(in []*schedule.Schedule) []*schedule.Schedule {
	seen := make(map[int64]bool, len(in))
	out := make([]*schedule.Schedule, 0, len(in))
	for _, s := range in {
		if s == nil {
			continue
		}
		if s.RefID != 0 {
			if seen[s.RefID] {
				continue
			}
			seen[s.RefID] = true
		}
		out = append(out, s)
	}
	return out
}
