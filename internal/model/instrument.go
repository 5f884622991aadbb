package model

import (
	"slices"
	"time"
)

// InstrumentType is the product family of a gas-detection instrument.
type InstrumentType string

const (
	InstrumentMX4   InstrumentType = "MX4"
	InstrumentMX6   InstrumentType = "MX6"
	InstrumentTX1   InstrumentType = "TX1"
	InstrumentVPRO  InstrumentType = "VPRO"
	InstrumentSC    InstrumentType = "SC"
	InstrumentGBPRO InstrumentType = "GBPRO"
	InstrumentGBPLS InstrumentType = "GBPLS"
)

type instrumentTraits struct {
	rechargeable bool
	minSensors   int
	unsupported  []string
}

var traits = map[InstrumentType]instrumentTraits{
	InstrumentMX4:   {rechargeable: true, minSensors: 1},
	InstrumentMX6:   {rechargeable: true, minSensors: 1},
	InstrumentVPRO:  {rechargeable: true, minSensors: 1},
	InstrumentSC:    {rechargeable: true, minSensors: 2},
	InstrumentTX1:   {rechargeable: false, minSensors: 1, unsupported: []string{"DLMANUAL", "DLPAUSE"}},
	InstrumentGBPRO: {rechargeable: false, minSensors: 1, unsupported: []string{"DLMANUAL", "DLPAUSE", "INSTDIAG"}},
	InstrumentGBPLS: {rechargeable: false, minSensors: 1, unsupported: []string{"DLMANUAL", "DLPAUSE"}},
}

// Known reports whether the type is a recognized instrument family.
func (t InstrumentType) Known() bool {
	_, ok := traits[t]
	return ok
}

// Rechargeable reports whether the family has a rechargeable battery pack.
func (t InstrumentType) Rechargeable() bool {
	return traits[t].rechargeable
}

// MinimumSensors is the number of installed sensors the family needs to operate.
func (t InstrumentType) MinimumSensors() int {
	if m := traits[t].minSensors; m > 0 {
		return m
	}
	return 1
}

// Supports reports whether the family can run the given event code.
func (t InstrumentType) Supports(code EventCode) bool {
	if !code.IsInstrument() {
		return true
	}
	return !slices.Contains(traits[t].unsupported, code.Code)
}

// CalibrationStatus is the instrument's own verdict on a sensor's last calibration.
type CalibrationStatus string

const (
	CalibrationUnknown CalibrationStatus = ""
	CalibrationPassed  CalibrationStatus = "passed"
	CalibrationFailed  CalibrationStatus = "failed"
)

// SensorMode is the operating mode reported by a sensor.
type SensorMode string

const (
	SensorModeNormal    SensorMode = "normal"
	SensorModeError     SensorMode = "error"
	SensorModeUndefined SensorMode = "undefined"
)

// Gas codes with special bump-failure handling.
const (
	GasO2   = "G0020"
	GasClO2 = "G0021"
)

// Sensor is an installed sensor as read from the instrument.
type Sensor struct {
	SerialNumber      string            `yaml:"serial"`
	ComponentCode     string            `yaml:"component_code"` // sensor type, e.g. S0020
	GasCode           string            `yaml:"gas_code"`
	Symbol            string            `yaml:"symbol"`
	Position          int               `yaml:"position"`
	Enabled           bool              `yaml:"enabled"`
	CalibrationStatus CalibrationStatus `yaml:"calibration_status"`
	BumpTestPassed    bool              `yaml:"bump_test_passed"`
	Mode              SensorMode        `yaml:"mode"`
	DualSense         bool              `yaml:"dual_sense"`
}

// InErrorMode reports whether the sensor is in an error or undefined mode.
func (s Sensor) InErrorMode() bool {
	return s.Mode == SensorModeError || s.Mode == SensorModeUndefined
}

// IsO2OrClO2 reports whether the sensor measures O2 or ClO2.
func (s Sensor) IsO2OrClO2() bool {
	return s.GasCode == GasO2 || s.GasCode == GasClO2
}

// Instrument is an immutable snapshot of a docked instrument.
// Copies returned by Clone share nothing with the original.
type Instrument struct {
	SerialNumber          string         `yaml:"serial"`
	Type                  InstrumentType `yaml:"type"`
	SoftwareVersion       string         `yaml:"software_version"`
	SystemAlarm           bool           `yaml:"system_alarm"`
	FirmwareUpgradeFailed bool           `yaml:"firmware_upgrade_failed"`
	BatteryCode           string         `yaml:"battery_code"`
	Sensors               []Sensor       `yaml:"sensors"`
}

// Clone returns a deep copy of the instrument.
func (i *Instrument) Clone() *Instrument {
	if i == nil {
		return nil
	}
	c := *i
	c.Sensors = slices.Clone(i.Sensors)
	return &c
}

// EnabledSensors returns the installed sensors that are enabled.
func (i *Instrument) EnabledSensors() []Sensor {
	var out []Sensor
	for _, s := range i.Sensors {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// SerialNumbers returns the instrument serial followed by every installed sensor serial.
func (i *Instrument) SerialNumbers() []string {
	out := []string{i.SerialNumber}
	for _, s := range i.Sensors {
		if s.SerialNumber != "" {
			out = append(out, s.SerialNumber)
		}
	}
	return out
}

// ComponentCodes returns the distinct sensor types installed.
func (i *Instrument) ComponentCodes() []string {
	var out []string
	for _, s := range i.Sensors {
		if s.ComponentCode != "" && !slices.Contains(out, s.ComponentCode) {
			out = append(out, s.ComponentCode)
		}
	}
	return out
}

// Sensor returns the installed sensor with the given serial number.
func (i *Instrument) Sensor(serial string) (Sensor, bool) {
	for _, s := range i.Sensors {
		if s.SerialNumber == serial {
			return s, true
		}
	}
	return Sensor{}, false
}

// DualSenseSiblings returns the other enabled sensors paired with s.
func (i *Instrument) DualSenseSiblings(s Sensor) []Sensor {
	if !s.DualSense {
		return nil
	}
	var out []Sensor
	for _, o := range i.Sensors {
		if o.SerialNumber != s.SerialNumber && o.Enabled && o.DualSense && o.ComponentCode == s.ComponentCode {
			out = append(out, o)
		}
	}
	return out
}

// Station describes the docking station the engine runs on.
type Station struct {
	SerialNumber    string
	InstrumentType  InstrumentType // the family this station accepts
	SoftwareVersion string
	Activated       bool // false runs in cal-station mode
	AvailableGases  []string
	ConfigError     string
	Timezone        *time.Location
}

// Serialized reports whether the station has been assigned a serial number.
func (s Station) Serialized() bool {
	return s.SerialNumber != ""
}

// RequiresManualAction reports whether the station cannot test the sensor with its attached gas.
func (s Station) RequiresManualAction(sensor Sensor) bool {
	return !slices.Contains(s.AvailableGases, sensor.GasCode)
}

// Location returns the station timezone, defaulting to UTC.
func (s Station) Location() *time.Location {
	if s.Timezone == nil {
		return time.UTC
	}
	return s.Timezone
}

// Account holds server-side account settings that change scheduling behavior.
type Account struct {
	Manufacturing               bool
	StopOnFailedBump            bool
	ContinueGasOpsDuringUpgrade bool
}
