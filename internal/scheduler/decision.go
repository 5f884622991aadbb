package scheduler

import (
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/dockd/internal/action"
	"github.com/watzon/dockd/internal/dock"
	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/schedule"
)

// MessageCheckCylinders replaces per-sensor messages when every enabled sensor
// failed calibration, which points at the gas hookup rather than the sensors.
const MessageCheckCylinders = "Check cylinder connections"

// decision is the working set of one GetNextAction call.
type decision struct {
	s    *Scheduler
	snap dock.Snapshot
	inst *model.Instrument
	now  time.Time
	loc  *time.Location
	req  *Requirements

	schedules []*schedule.Schedule
	journals  model.Journals
	lastCal   model.Journals

	fwOverdue bool
	nextDue   map[string]time.Time
	examined  map[string]bool
}

func (d *decision) instrumentFirmwareOverdue() bool {
	code := model.InstrumentFirmwareUpgrade
	if !d.snap.ServerConnected || !d.inst.Type.Supports(code) {
		return false
	}
	return d.overdueAction(code) != nil
}

// heldForUpgrade reports whether a sensor fault waits for the overdue instrument
// firmware upgrade. Only faults the station cannot clear with its own gas wait.
func (d *decision) heldForUpgrade(s model.Sensor) bool {
	return d.fwOverdue && d.snap.Station.RequiresManualAction(s)
}

func (d *decision) manualActionRequired() *action.Action {
	for _, s := range d.inst.EnabledSensors() {
		if !d.snap.Station.RequiresManualAction(s) {
			continue
		}
		var kind action.Kind
		switch {
		case d.sensorCalibrationFailed(s):
			kind = action.KindManualCalibrationRequired
		case d.sensorBumpFailed(s):
			kind = action.KindManualBumpTestRequired
		default:
			continue
		}
		a := action.New(kind, action.TriggerManual).WithMessages(s.Symbol)
		a.Instrument = d.inst.Clone()
		a.SensorSerials = []string{s.SerialNumber}
		return a
	}
	return nil
}

func (d *decision) deriveRequirements() {
	if d.firmwareChanged() {
		diag := model.InstrumentDiagnostics
		switch {
		case d.inst.Type.Supports(diag) && !d.hasJournalAtVersion(diag, d.inst.SerialNumber):
			d.req.Diagnostics = true
		case d.sensorsMissingJournal(model.Calibration):
			d.req.Calibration = true
		case !d.calibrationFailed() && !d.snap.Account.Manufacturing && d.sensorsMissingJournal(model.BumpTest):
			d.req.BumpTest = true
		}
	}
	if d.sensorsDrifted() {
		d.req.Calibration = true
	}
}

// firmwareChanged reports whether this instrument has journal history recorded
// under a software version other than the one it runs now.
func (d *decision) firmwareChanged() bool {
	for _, j := range d.journals {
		if j.SerialNumber != d.inst.SerialNumber && j.InstrumentSerialNumber != d.inst.SerialNumber {
			continue
		}
		if j.Stale(d.inst.SoftwareVersion) {
			return true
		}
	}
	return false
}

func (d *decision) hasJournalAtVersion(code model.EventCode, serial string) bool {
	_, ok := d.journals.LastAtVersion(code.Code, serial, d.inst.SoftwareVersion)
	return ok
}

// sensorsMissingJournal reports whether an enabled sensor has no journal for code
// at the current software version. A DualSense sensor is exempt when its partner has one.
func (d *decision) sensorsMissingJournal(code model.EventCode) bool {
	for _, s := range d.inst.EnabledSensors() {
		if d.hasJournalAtVersion(code, s.SerialNumber) {
			continue
		}
		if slices.ContainsFunc(d.inst.DualSenseSiblings(s), func(o model.Sensor) bool {
			return d.hasJournalAtVersion(code, o.SerialNumber)
		}) {
			continue
		}
		return true
	}
	return false
}

// sensorsDrifted compares installed sensors against calibration history. Instruments
// that were never calibrated have no history to drift from.
func (d *decision) sensorsDrifted() bool {
	if len(d.lastCal) == 0 {
		return false
	}
	for _, s := range d.inst.EnabledSensors() {
		j, ok := d.journals.Last(model.Calibration.Code, s.SerialNumber)
		if !ok {
			log.Info().Str("sensor", s.SerialNumber).Msg("Sensor added since last calibration")
			return true
		}
		if j.Position != 0 && s.Position != 0 && j.Position != s.Position {
			log.Info().Str("sensor", s.SerialNumber).Int("was", j.Position).Int("now", s.Position).
				Msg("Sensor moved since last calibration")
			return true
		}
	}
	for _, j := range d.lastCal {
		if j.SerialNumber == d.inst.SerialNumber {
			continue
		}
		if _, ok := d.inst.Sensor(j.SerialNumber); !ok {
			log.Info().Str("sensor", j.SerialNumber).Msg("Sensor removed since last calibration")
			return true
		}
	}
	return false
}

func (d *decision) sensorCalibrationFailed(s model.Sensor) bool {
	if s.CalibrationStatus == model.CalibrationFailed {
		return true
	}
	j, ok := d.journals.Last(model.Calibration.Code, s.SerialNumber)
	return ok && !j.Passed
}

func (d *decision) calibrationFailed() bool {
	return slices.ContainsFunc(d.inst.EnabledSensors(), d.sensorCalibrationFailed)
}

// bumpFailedAt reports whether the sensor is in bump fault and when the fault
// was recorded. A failed journal followed by a passing calibration no longer counts.
func (d *decision) bumpFailedAt(s model.Sensor) (time.Time, bool) {
	j, ok := d.journals.Last(model.BumpTest.Code, s.SerialNumber)
	if !s.BumpTestPassed {
		if ok && !j.Passed {
			return j.RunTime, true
		}
		return d.snap.DockedTime, true
	}
	if !ok || j.Passed {
		return time.Time{}, false
	}
	if c, ok := d.journals.Last(model.Calibration.Code, s.SerialNumber); ok && c.Passed && c.RunTime.After(j.RunTime) {
		return time.Time{}, false
	}
	return j.RunTime, true
}

func (d *decision) sensorBumpFailed(s model.Sensor) bool {
	_, failed := d.bumpFailedAt(s)
	return failed
}

func (d *decision) calibrationFailureAction() *action.Action {
	var failed []model.Sensor
	enabled := d.inst.EnabledSensors()
	for _, s := range enabled {
		if d.sensorCalibrationFailed(s) && !d.heldForUpgrade(s) {
			failed = append(failed, s)
		}
	}
	if len(failed) == 0 {
		return nil
	}

	a := action.New(action.KindCalibrationFailure, action.TriggerUnscheduled)
	a.Instrument = d.inst.Clone()
	hookup := len(enabled) >= 2 && len(failed) == len(enabled)
	if hookup {
		a.WithMessages(MessageCheckCylinders)
	}
	for _, s := range failed {
		if !hookup {
			a.WithMessages(s.Symbol)
		}
		a.SensorSerials = append(a.SensorSerials, s.SerialNumber)
	}
	return a
}

// bumpFailureAction surfaces bump faults that need the operator. Other bump
// faults latch a calibration, which clears them.
func (d *decision) bumpFailureAction() *action.Action {
	var failed []model.Sensor
	for _, s := range d.inst.EnabledSensors() {
		failedAt, isFailed := d.bumpFailedAt(s)
		if !isFailed || d.heldForUpgrade(s) {
			continue
		}

		if s.IsO2OrClO2() || d.snap.Account.StopOnFailedBump {
			if slices.ContainsFunc(d.inst.DualSenseSiblings(s), func(o model.Sensor) bool {
				return !d.sensorBumpFailed(o)
			}) {
				continue
			}
			failed = append(failed, s)
			continue
		}

		c, ok := d.journals.Last(model.Calibration.Code, s.SerialNumber)
		recalibrated := ok && c.Passed && (c.RunTime.After(d.snap.DockedTime) || c.RunTime.After(failedAt))
		if !recalibrated {
			d.req.Calibration = true
		}
	}
	if len(failed) == 0 {
		return nil
	}

	a := action.New(action.KindBumpFailure, action.TriggerUnscheduled)
	a.Instrument = d.inst.Clone()
	for _, s := range failed {
		a.WithMessages(s.Symbol)
		a.SensorSerials = append(a.SensorSerials, s.SerialNumber)
	}
	return a
}

func (d *decision) scheduledAction() *action.Action {
	order := model.SchedulePriority
	if d.fwOverdue && d.snap.Account.ContinueGasOpsDuringUpgrade {
		order = upgradeAfterGasOps(order)
	}
	for _, code := range order {
		if code.IsInstrument() && (d.inst == nil || !d.inst.Type.Supports(code)) {
			continue
		}
		if code.RequiresServer && !d.snap.ServerConnected {
			continue
		}
		if code.GasOperation && d.fwOverdue && !d.snap.Account.ContinueGasOpsDuringUpgrade {
			continue
		}
		if d.req.Latched(code) {
			return action.ForCode(code, action.TriggerUnscheduled, nil, d.inst)
		}
		if a := d.overdueAction(code); a != nil {
			return a
		}
	}
	return nil
}

// upgradeAfterGasOps moves the instrument firmware upgrade behind the gas
// operations, so due calibrations and bump tests keep running while it is pending.
func upgradeAfterGasOps(order []model.EventCode) []model.EventCode {
	out := make([]model.EventCode, 0, len(order))
	at := 0
	for _, code := range order {
		if code.Code == model.InstrumentFirmwareUpgrade.Code {
			continue
		}
		out = append(out, code)
		if code.GasOperation {
			at = len(out)
		}
	}
	return slices.Insert(out, at, model.InstrumentFirmwareUpgrade)
}
