package model

import (
	"errors"
	"fmt"
)

// Failure conditions raised by operations and discovery. The executor classifies
// them with errors.Is / errors.As.
var (
	ErrUndocked            = errors.New("instrument undocked")
	ErrNotReady            = errors.New("instrument not ready")
	ErrInstrumentNoRespond = errors.New("instrument not responding")
)

// FlowError reports a gas delivery problem.
type FlowError struct {
	Endpoint  string // cylinder port or manifold endpoint
	BadTubing bool
	Err       error
}

func (e *FlowError) Error() string {
	msg := "flow failure"
	if e.BadTubing {
		msg = "tubing fault"
	}
	if e.Endpoint != "" {
		msg += " on " + e.Endpoint
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FlowError) Unwrap() error { return e.Err }

// SensorError reports a sensor that entered an error mode during an operation.
type SensorError struct {
	SerialNumber string
	Mode         SensorMode
}

func (e *SensorError) Error() string {
	return fmt.Sprintf("sensor %s in %s mode", e.SerialNumber, e.Mode)
}

// SystemAlarmError reports an instrument in a critical system alarm.
type SystemAlarmError struct {
	SerialNumber string
	Code         int
}

func (e *SystemAlarmError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("instrument %s system alarm %d", e.SerialNumber, e.Code)
	}
	return fmt.Sprintf("instrument %s system alarm", e.SerialNumber)
}

// HardwareConfigError reports a station wiring or configuration fault.
type HardwareConfigError struct {
	Component string
	Message   string
}

func (e *HardwareConfigError) Error() string {
	return fmt.Sprintf("hardware configuration fault in %s: %s", e.Component, e.Message)
}
