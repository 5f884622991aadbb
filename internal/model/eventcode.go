// Package model holds the value types shared by the scheduler and the executor:
// event codes, instrument and station snapshots, journals, actions and result events.
package model

import (
	"strings"
	"sync"
)

// EquipmentType is the kind of equipment an event code applies to.
type EquipmentType string

const (
	// EquipmentInstrument requires a docked instrument.
	EquipmentInstrument EquipmentType = "instrument"
	// EquipmentStation targets the docking station itself.
	EquipmentStation EquipmentType = "station"
)

// EventCode identifies a kind of operation that can be scheduled or forced.
type EventCode struct {
	Code           string
	Name           string
	Equipment      EquipmentType
	GasOperation   bool // consumes gas from the station's cylinders
	RequiresServer bool // cannot run while the server connection is down
}

// IsZero reports whether the code is the empty code.
func (c EventCode) IsZero() bool {
	return c.Code == ""
}

// IsInstrument reports whether the code needs a docked instrument.
func (c EventCode) IsInstrument() bool {
	return c.Equipment == EquipmentInstrument
}

func (c EventCode) String() string {
	return c.Code
}

// Known event codes.
var (
	Calibration               = EventCode{Code: "CAL", Name: "Calibration", Equipment: EquipmentInstrument, GasOperation: true}
	BumpTest                  = EventCode{Code: "BUMP", Name: "Bump Test", Equipment: EquipmentInstrument, GasOperation: true}
	InstrumentDiagnostics     = EventCode{Code: "INSTDIAG", Name: "Instrument Diagnostics", Equipment: EquipmentInstrument}
	Diagnostics               = EventCode{Code: "DIAG", Name: "Diagnostics", Equipment: EquipmentStation}
	InstrumentFirmwareUpgrade = EventCode{Code: "INSTFW", Name: "Instrument Firmware Upgrade", Equipment: EquipmentInstrument, RequiresServer: true}
	FirmwareUpgrade           = EventCode{Code: "FW", Name: "Firmware Upgrade", Equipment: EquipmentStation, RequiresServer: true}
	DownloadDatalog           = EventCode{Code: "DLDATALOG", Name: "Download Datalog", Equipment: EquipmentInstrument}
	DownloadManualOperations  = EventCode{Code: "DLMANUAL", Name: "Download Manual Operations", Equipment: EquipmentInstrument}
	DataDownloadPause         = EventCode{Code: "DLPAUSE", Name: "Data Download Pause", Equipment: EquipmentInstrument}
	UploadDebugLog            = EventCode{Code: "UPLOADLOG", Name: "Upload Debug Log", Equipment: EquipmentStation, RequiresServer: true}
	Troubleshoot              = EventCode{Code: "TROUBLESHOOT", Name: "Troubleshoot", Equipment: EquipmentStation}
	CylinderPressureReset     = EventCode{Code: "CYLRESET", Name: "Cylinder Pressure Reset", Equipment: EquipmentStation}
)

// SchedulePriority is the fixed order in which scheduled event codes are examined.
var SchedulePriority = []EventCode{
	FirmwareUpgrade,
	InstrumentFirmwareUpgrade,
	InstrumentDiagnostics,
	DownloadDatalog,
	DownloadManualOperations,
	Calibration,
	BumpTest,
	Diagnostics,
	UploadDebugLog,
	DataDownloadPause,
	CylinderPressureReset,
	Troubleshoot,
}

var (
	eventCodeCache     map[string]EventCode
	eventCodeCacheOnce sync.Once
)

func loadEventCodes() {
	eventCodeCache = make(map[string]EventCode, len(SchedulePriority))
	for _, c := range SchedulePriority {
		eventCodeCache[c.Code] = c
	}
}

// LookupEventCode returns the cached event code for a code string.
// Lookups are case-insensitive.
func LookupEventCode(code string) (EventCode, bool) {
	eventCodeCacheOnce.Do(loadEventCodes)
	c, ok := eventCodeCache[strings.ToUpper(strings.TrimSpace(code))]
	return c, ok
}

// AllEventCodes returns every known event code in schedule priority order.
func AllEventCodes() []EventCode {
	out := make([]EventCode, len(SchedulePriority))
	copy(out, SchedulePriority)
	return out
}
