package sim

import (
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/dockd/internal/action"
	"github.com/watzon/dockd/internal/dock"
	"github.com/watzon/dockd/internal/executor"
	"github.com/watzon/dockd/internal/model"
)

// Register installs a simulated operation for every action kind the station runs.
func Register(reg *executor.Registry, bus *Bus, state *dock.State, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	for _, code := range model.AllEventCodes() {
		kind, ok := action.KindForCode(code)
		if !ok {
			continue
		}
		reg.Register(kind, func(a *action.Action) executor.Operation {
			return &operation{a: a, bus: bus, state: state, now: now}
		})
	}
	for _, kind := range []action.Kind{action.KindReboot, action.KindFactoryReset} {
		reg.Register(kind, func(a *action.Action) executor.Operation {
			return &operation{a: a, bus: bus, state: state, now: now}
		})
	}
}

type operation struct {
	a     *action.Action
	bus   *Bus
	state *dock.State
	now   func() time.Time
}

func (o *operation) key() string {
	if !o.a.EventCode.IsZero() {
		return o.a.EventCode.Code
	}
	return string(o.a.Kind)
}

func (o *operation) Execute(context.Context) (*action.Event, error) {
	d, err := o.bus.Load()
	if err != nil {
		return nil, err
	}
	if err := d.fault(o.key()); err != nil {
		return nil, err
	}

	ev := action.NewEvent(o.a)
	ev.Time = o.now()
	ev.Passed = !d.failing(o.key())

	code := o.a.EventCode
	switch {
	case code.IsZero():
		log.Info().Str("action", o.a.String()).Msg("Simulated station command")
		return ev, nil

	case !code.IsInstrument():
		snap := o.state.Snapshot()
		ev.Journals = model.Journals{{
			EventCode:       code.Code,
			SerialNumber:    snap.Station.SerialNumber,
			RunTime:         ev.Time,
			Passed:          ev.Passed,
			SoftwareVersion: snap.Station.SoftwareVersion,
		}}
		return ev, nil
	}

	if !d.docked() {
		return nil, model.ErrUndocked
	}
	inst := o.state.Snapshot().Instrument
	if inst == nil {
		return nil, model.ErrUndocked
	}

	if code.GasOperation {
		o.gasOperation(ev, inst)
	} else if code.Code == model.InstrumentFirmwareUpgrade.Code && o.a.Schedule != nil {
		if v := o.a.Schedule.Property("version"); v != "" && ev.Passed {
			inst.SoftwareVersion = v
		}
	}

	ev.Journals = append(ev.Journals, model.EventJournal{
		EventCode:              code.Code,
		SerialNumber:           inst.SerialNumber,
		InstrumentSerialNumber: inst.SerialNumber,
		RunTime:                ev.Time,
		Passed:                 ev.Passed,
		SoftwareVersion:        inst.SoftwareVersion,
	})
	o.state.UpdateInstrument(inst)

	log.Info().
		Str("action", o.a.String()).
		Str("instrument", inst.SerialNumber).
		Bool("passed", ev.Passed).
		Int("journals", len(ev.Journals)).
		Msg("Simulated operation finished")
	return ev, nil
}

// gasOperation journals every targeted sensor and records the outcome on inst.
func (o *operation) gasOperation(ev *action.Event, inst *model.Instrument) {
	cal := o.a.EventCode.Code == model.Calibration.Code
	for i := range inst.Sensors {
		s := &inst.Sensors[i]
		if !s.Enabled {
			continue
		}
		if len(o.a.ComponentCodes) > 0 && !slices.Contains(o.a.ComponentCodes, s.ComponentCode) {
			continue
		}
		if cal {
			s.CalibrationStatus = model.CalibrationFailed
			if ev.Passed {
				s.CalibrationStatus = model.CalibrationPassed
			}
		}
		s.BumpTestPassed = ev.Passed
		ev.Journals = append(ev.Journals, model.EventJournal{
			EventCode:              o.a.EventCode.Code,
			SerialNumber:           s.SerialNumber,
			InstrumentSerialNumber: inst.SerialNumber,
			RunTime:                ev.Time,
			Passed:                 ev.Passed,
			SoftwareVersion:        inst.SoftwareVersion,
			Position:               s.Position,
		})
	}
}
