// Package action defines the docking station actions chosen by the scheduler
// and the result events produced when the executor runs them.
package action

import (
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/schedule"
)

// Kind identifies the operation family of an action.
type Kind string

const (
	KindNothing                   Kind = "nothing"
	KindInstrumentCalibration     Kind = "instrument_calibration"
	KindInstrumentBumpTest        Kind = "instrument_bump_test"
	KindCalibrationFailure        Kind = "calibration_failure"
	KindBumpFailure               Kind = "bump_failure"
	KindManualCalibrationRequired Kind = "manual_calibration_required"
	KindManualBumpTestRequired    Kind = "manual_bump_test_required"
	KindInstrumentDiagnostic      Kind = "instrument_diagnostic"
	KindDiagnostic                Kind = "diagnostic"
	KindInstrumentFirmwareUpgrade Kind = "instrument_firmware_upgrade"
	KindFirmwareUpgrade           Kind = "firmware_upgrade"
	KindDownloadDatalog           Kind = "download_datalog"
	KindDownloadManualOperations  Kind = "download_manual_operations"
	KindDataDownloadPause         Kind = "data_download_pause"
	KindUploadDebugLog            Kind = "upload_debug_log"
	KindTroubleshoot              Kind = "troubleshoot"
	KindCylinderPressureReset     Kind = "cylinder_pressure_reset"
	KindReboot                    Kind = "reboot"
	KindFactoryReset              Kind = "factory_reset"
)

var kindByCode = map[string]Kind{
	model.Calibration.Code:               KindInstrumentCalibration,
	model.BumpTest.Code:                  KindInstrumentBumpTest,
	model.InstrumentDiagnostics.Code:     KindInstrumentDiagnostic,
	model.Diagnostics.Code:               KindDiagnostic,
	model.InstrumentFirmwareUpgrade.Code: KindInstrumentFirmwareUpgrade,
	model.FirmwareUpgrade.Code:           KindFirmwareUpgrade,
	model.DownloadDatalog.Code:           KindDownloadDatalog,
	model.DownloadManualOperations.Code:  KindDownloadManualOperations,
	model.DataDownloadPause.Code:         KindDataDownloadPause,
	model.UploadDebugLog.Code:            KindUploadDebugLog,
	model.Troubleshoot.Code:              KindTroubleshoot,
	model.CylinderPressureReset.Code:     KindCylinderPressureReset,
}

// KindForCode returns the action kind that runs an event code.
func KindForCode(code model.EventCode) (Kind, bool) {
	k, ok := kindByCode[code.Code]
	return k, ok
}

// ParseKind resolves a kind name such as "reboot".
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindNothing, KindCalibrationFailure, KindBumpFailure, KindManualCalibrationRequired,
		KindManualBumpTestRequired, KindReboot, KindFactoryReset:
		return k, true
	}
	for _, v := range kindByCode {
		if v == k {
			return k, true
		}
	}
	return "", false
}

// Protected reports whether a pending action of this kind may not be replaced.
func (k Kind) Protected() bool {
	return k == KindReboot || k == KindFactoryReset
}

// Trigger is why an action was chosen.
type Trigger string

const (
	TriggerForced      Trigger = "forced"
	TriggerScheduled   Trigger = "scheduled"
	TriggerUnscheduled Trigger = "unscheduled"
	TriggerManual      Trigger = "manual"
)

// Action is the single next thing the station should do.
type Action struct {
	ID             string
	Kind           Kind
	Trigger        Trigger
	EventCode      model.EventCode    // zero for actions with no event code
	Schedule       *schedule.Schedule // originating schedule, if any
	Messages       []string
	Instrument     *model.Instrument // snapshot captured at decision time
	ComponentCodes []string          // sensor types targeted, empty for all
	SensorSerials  []string          // sensors named by failure and manual-action kinds
}

// New creates an action with a fresh ID.
func New(kind Kind, trigger Trigger) *Action {
	return &Action{
		ID:      uuid.New().String(),
		Kind:    kind,
		Trigger: trigger,
	}
}

// Nothing returns the action that does nothing.
func Nothing() *Action {
	return New(KindNothing, TriggerUnscheduled)
}

// ForCode creates the action that runs code, capturing an instrument snapshot
// for instrument-scoped codes. It returns nil if no action kind runs the code.
func ForCode(code model.EventCode, trigger Trigger, s *schedule.Schedule, inst *model.Instrument) *Action {
	kind, ok := KindForCode(code)
	if !ok {
		return nil
	}
	a := New(kind, trigger)
	a.EventCode = code
	a.Schedule = s
	if code.IsInstrument() {
		a.Instrument = inst.Clone()
	}
	if s != nil {
		a.ComponentCodes = slices.Clone(s.ComponentCodes)
	}
	return a
}

// IsNothing reports whether the action is nil or a nothing action.
func (a *Action) IsNothing() bool {
	return a == nil || a.Kind == KindNothing
}

// IsGasOperation reports whether the action is a calibration or bump test.
func (a *Action) IsGasOperation() bool {
	return a.Kind == KindInstrumentCalibration || a.Kind == KindInstrumentBumpTest
}

// WithMessages appends user-facing messages and returns the action.
func (a *Action) WithMessages(msgs ...string) *Action {
	a.Messages = append(a.Messages, msgs...)
	return a
}

// InstrumentSerial returns the serial number of the instrument snapshot, if any.
func (a *Action) InstrumentSerial() string {
	if a.Instrument == nil {
		return ""
	}
	return a.Instrument.SerialNumber
}

func (a *Action) String() string {
	if a == nil {
		return string(KindNothing)
	}
	return string(a.Kind)
}
