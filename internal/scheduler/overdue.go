package scheduler

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/watzon/dockd/internal/action"
	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/schedule"
)

// overdueAction returns the scheduled action for code if any applicable schedule
// is overdue. Instrument-wide schedules are checked first; overdue sensor-type
// schedules are merged into one action covering every overdue sensor type.
func (d *decision) overdueAction(code model.EventCode) *action.Action {
	d.examined[code.Code] = true

	var whole, perSensor []*schedule.Schedule
	for _, s := range d.schedulesFor(code) {
		if s.SensorSpecific() {
			perSensor = append(perSensor, s)
		} else {
			whole = append(whole, s)
		}
	}

	for _, s := range whole {
		next := d.equipmentNextRun(s, code)
		if s.IsOverdue(next, d.now) {
			return action.ForCode(code, action.TriggerScheduled, s, d.inst)
		}
		d.trackNext(code, next)
	}

	if d.inst == nil {
		return nil
	}

	var merged *action.Action
	for _, s := range perSensor {
		for _, sensor := range d.inst.EnabledSensors() {
			if !slices.Contains(s.ComponentCodes, sensor.ComponentCode) {
				continue
			}
			var next time.Time
			if perSensorCode(code) {
				next = d.sensorNextRun(s, code, sensor)
			} else {
				next = d.equipmentNextRun(s, code)
			}
			if !s.IsOverdue(next, d.now) {
				d.trackNext(code, next)
				continue
			}
			if merged == nil {
				merged = action.ForCode(code, action.TriggerScheduled, s, d.inst)
				merged.ComponentCodes = nil
			}
			if !slices.Contains(merged.ComponentCodes, sensor.ComponentCode) {
				merged.ComponentCodes = append(merged.ComponentCodes, sensor.ComponentCode)
			}
		}
	}
	return merged
}

// schedulesFor returns the enabled schedules for code that apply to the present
// equipment. Assigned schedules win over instrument-family schedules, which win
// over global ones.
func (d *decision) schedulesFor(code model.EventCode) []*schedule.Schedule {
	var assigned, typed, global []*schedule.Schedule
	for _, s := range d.schedules {
		if !s.Enabled || s.EventCode.Code != code.Code {
			continue
		}
		if code.IsInstrument() && d.inst == nil {
			continue
		}
		if code.Code == model.InstrumentFirmwareUpgrade.Code {
			if v := s.Property("version"); v != "" && v == d.inst.SoftwareVersion {
				continue
			}
		}
		if s.SensorSpecific() && (d.inst == nil || !overlaps(s.ComponentCodes, d.inst.ComponentCodes())) {
			continue
		}

		switch {
		case !s.Global():
			if d.assignedHere(s, code) {
				assigned = append(assigned, s)
			}
		case s.EquipmentType != "":
			if s.EquipmentType == d.equipmentType(code) {
				typed = append(typed, s)
			}
		default:
			global = append(global, s)
		}
	}

	switch {
	case len(assigned) > 0:
		return assigned
	case len(typed) > 0:
		return typed
	}
	return global
}

func (d *decision) assignedHere(s *schedule.Schedule, code model.EventCode) bool {
	if !code.IsInstrument() {
		return s.AssignedTo(d.snap.Station.SerialNumber)
	}
	return s.AssignedTo(d.inst.SerialNumbers()...)
}

func (d *decision) equipmentType(code model.EventCode) string {
	if code.IsInstrument() {
		return string(d.inst.Type)
	}
	return string(d.snap.Station.InstrumentType)
}

// equipmentNextRun returns when a whole-equipment schedule is next due. Gas
// operations are due as soon as any enabled sensor is due.
func (d *decision) equipmentNextRun(s *schedule.Schedule, code model.EventCode) time.Time {
	if !code.IsInstrument() {
		last, ran := d.lastRun(code, d.snap.Station.SerialNumber)
		return d.nextRun(s, last, ran)
	}
	if perSensorCode(code) {
		sensors := d.inst.EnabledSensors()
		if len(sensors) > 0 {
			next := schedule.Never
			for _, sensor := range sensors {
				if t := d.sensorNextRun(s, code, sensor); t.Before(next) {
					next = t
				}
			}
			return next
		}
	}
	last, ran := d.lastRun(code, d.inst.SerialNumber)
	return d.nextRun(s, last, ran)
}

// sensorNextRun returns when a gas operation is next due for one sensor.
func (d *decision) sensorNextRun(s *schedule.Schedule, code model.EventCode, sensor model.Sensor) time.Time {
	last, ran := d.lastRun(code, sensor.SerialNumber)
	if code.Code == model.BumpTest.Code {
		// A calibration since docking restarts the bump interval.
		if cal, ok := d.lastRun(model.Calibration, sensor.SerialNumber); ok && cal.After(d.snap.DockedTime) && (!ran || last.Before(cal)) {
			last, ran = cal, true
		}
		if d.dualSensePartnerAhead(sensor, last, ran) {
			return d.snap.DockedTime
		}
	}
	return d.nextRun(s, last, ran)
}

// dualSensePartnerAhead reports whether a DualSense partner was bumped more recently
// than sensor, which has not been bumped since docking.
func (d *decision) dualSensePartnerAhead(sensor model.Sensor, last time.Time, ran bool) bool {
	if !sensor.DualSense || !versionAtLeast(d.inst.SoftwareVersion, d.s.dualSenseMinVersion) {
		return false
	}
	if ran && !last.Before(d.snap.DockedTime) {
		return false
	}
	for _, o := range d.inst.DualSenseSiblings(sensor) {
		if t, ok := d.lastRun(model.BumpTest, o.SerialNumber); ok && (!ran || t.After(last)) {
			return true
		}
	}
	return false
}

// lastRun returns the last run time of code for a serial number. Qualification
// journals recorded under other instrument firmware do not count.
func (d *decision) lastRun(code model.EventCode, serial string) (time.Time, bool) {
	var (
		j  model.EventJournal
		ok bool
	)
	if qualification(code) && d.inst != nil {
		j, ok = d.journals.LastAtVersion(code.Code, serial, d.inst.SoftwareVersion)
	} else {
		j, ok = d.journals.Last(code.Code, serial)
	}
	return j.RunTime, ok
}

func (d *decision) nextRun(s *schedule.Schedule, last time.Time, ran bool) time.Time {
	if !ran {
		return s.FirstRunTime(d.snap.DockedTime, d.loc)
	}
	return s.NextRunTime(last, d.snap.DockedTime, d.loc)
}

func (d *decision) trackNext(code model.EventCode, t time.Time) {
	if !t.After(d.now) || !t.Before(schedule.Never) {
		return
	}
	if cur, ok := d.nextDue[code.Code]; !ok || t.Before(cur) {
		d.nextDue[code.Code] = t
	}
}

func perSensorCode(code model.EventCode) bool {
	return code.Code == model.Calibration.Code || code.Code == model.BumpTest.Code
}

func qualification(code model.EventCode) bool {
	return perSensorCode(code) || code.Code == model.InstrumentDiagnostics.Code
}

func overlaps(a, b []string) bool {
	return slices.ContainsFunc(a, func(s string) bool { return slices.Contains(b, s) })
}

// versionAtLeast compares dotted numeric versions. An empty minimum always matches.
func versionAtLeast(v, minimum string) bool {
	if minimum == "" {
		return true
	}
	a, b := strings.Split(v, "."), strings.Split(minimum, ".")
	for i := 0; i < max(len(a), len(b)); i++ {
		x, y := versionPart(a, i), versionPart(b, i)
		if x != y {
			return x > y
		}
	}
	return true
}

func versionPart(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimSpace(parts[i]))
	return n
}
