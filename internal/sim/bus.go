// Package sim provides a file-backed instrument bus and simulated operations
// for running the station without hardware.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/watzon/dockd/internal/model"
)

// Fault names accepted in the faults section of a device file.
const (
	FaultFlow      = "flow"
	FaultTubing    = "tubing"
	FaultSensor    = "sensor"
	FaultAlarm     = "alarm"
	FaultUndocked  = "undocked"
	FaultNotReady  = "not_ready"
	FaultHardware  = "hardware"
	FaultFail      = "fail" // the operation completes but does not pass
)

const defaultEndpoint = "port 1"

// Device is the contents of a simulated instrument file. A missing file means
// nothing is docked.
type Device struct {
	Docked     *bool               `yaml:"docked"`
	Responsive *bool               `yaml:"responsive"`
	Charging   model.ChargingState `yaml:"charging"`
	Instrument model.Instrument    `yaml:"instrument"`

	// Keyed by event code (CAL, BUMP, ...) or action kind (reboot, factory_reset).
	Faults map[string]string `yaml:"faults"`
}

func (d *Device) docked() bool {
	return d != nil && (d.Docked == nil || *d.Docked)
}

func (d *Device) responsive() bool {
	return d.Responsive == nil || *d.Responsive
}

// fault returns the configured failure for key, or nil.
func (d *Device) fault(key string) error {
	if d == nil {
		return nil
	}
	name := d.Faults[key]
	switch name {
	case "", FaultFail:
		return nil
	case FaultFlow:
		return &model.FlowError{Endpoint: defaultEndpoint}
	case FaultTubing:
		return &model.FlowError{Endpoint: defaultEndpoint, BadTubing: true}
	case FaultSensor:
		serial := ""
		if len(d.Instrument.Sensors) > 0 {
			serial = d.Instrument.Sensors[0].SerialNumber
		}
		return &model.SensorError{SerialNumber: serial, Mode: model.SensorModeError}
	case FaultAlarm:
		return &model.SystemAlarmError{SerialNumber: d.Instrument.SerialNumber}
	case FaultUndocked:
		return model.ErrUndocked
	case FaultNotReady:
		return model.ErrNotReady
	case FaultHardware:
		return &model.HardwareConfigError{Component: "pump", Message: "not detected"}
	default:
		return errors.New(name)
	}
}

func (d *Device) failing(key string) bool {
	return d != nil && d.Faults[key] == FaultFail
}

// Bus reads the docked instrument from a YAML file on every conversation, so
// editing the file docks, undocks or changes the instrument.
type Bus struct {
	path string

	mu        sync.Mutex
	powerOffs int
}

// NewBus creates a bus backed by the device file at path.
func NewBus(path string) *Bus {
	return &Bus{path: path}
}

// Path returns the device file path.
func (b *Bus) Path() string {
	return b.path
}

// Load reads the device file. It returns nil when the file does not exist.
func (b *Bus) Load() (*Device, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading device file: %w", err)
	}

	var d Device
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing device file %s: %w", b.path, err)
	}
	return &d, nil
}

// Discover reads the docked instrument.
func (b *Bus) Discover(context.Context) (*model.Instrument, error) {
	d, err := b.Load()
	if err != nil {
		return nil, err
	}
	if !d.docked() {
		return nil, model.ErrUndocked
	}
	if !d.responsive() {
		return nil, model.ErrInstrumentNoRespond
	}
	return d.Instrument.Clone(), nil
}

// Present reports whether the device file says an instrument is seated.
func (b *Bus) Present(context.Context) bool {
	d, err := b.Load()
	if err != nil {
		log.Debug().Err(err).Str("path", b.path).Msg("Device file unreadable")
		return false
	}
	return d.docked()
}

// PowerOff records a power-off request.
func (b *Bus) PowerOff(context.Context) error {
	b.mu.Lock()
	b.powerOffs++
	b.mu.Unlock()
	log.Debug().Str("path", b.path).Msg("Simulated instrument powered off")
	return nil
}

// PowerOffs returns how many times the instrument was powered off.
func (b *Bus) PowerOffs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.powerOffs
}

// ReadCharging returns the charging state from the device file. A docked
// instrument with no state given is charging.
func (b *Bus) ReadCharging(context.Context) (model.ChargingState, error) {
	d, err := b.Load()
	if err != nil {
		return "", err
	}
	if !d.docked() {
		return model.ChargingNotCharging, nil
	}
	if !d.responsive() {
		return "", model.ErrInstrumentNoRespond
	}
	if d.Charging == "" {
		return model.ChargingCharging, nil
	}
	return d.Charging, nil
}

// WriteDevice writes d to path.
func WriteDevice(path string, d *Device) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding device: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
