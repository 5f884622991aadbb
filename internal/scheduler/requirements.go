package scheduler

import (
	"github.com/watzon/dockd/internal/action"
	"github.com/watzon/dockd/internal/model"
)

// Requirements are operations the scheduler has derived must run regardless of
// schedules, for example after a firmware change or a sensor swap. They live for
// one docking session and are cleared when the matching journal is observed.
type Requirements struct {
	Diagnostics bool `json:"diagnostics"`
	Calibration bool `json:"calibration"`
	BumpTest    bool `json:"bump_test"`
}

// Observe clears every requirement satisfied by the event's journals.
func (r *Requirements) Observe(ev *action.Event) {
	if ev == nil {
		return
	}
	if ev.HasJournal(model.InstrumentDiagnostics.Code) {
		r.Diagnostics = false
	}
	if ev.HasJournal(model.Calibration.Code) {
		r.Calibration = false
	}
	if ev.HasJournal(model.BumpTest.Code) {
		r.BumpTest = false
	}
}

// Latched reports whether the requirement for code is set.
func (r Requirements) Latched(code model.EventCode) bool {
	switch code.Code {
	case model.InstrumentDiagnostics.Code:
		return r.Diagnostics
	case model.Calibration.Code:
		return r.Calibration
	case model.BumpTest.Code:
		return r.BumpTest
	}
	return false
}

// Any reports whether any requirement is set.
func (r Requirements) Any() bool {
	return r.Diagnostics || r.Calibration || r.BumpTest
}
