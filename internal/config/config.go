// Package config provides configuration management for dockd.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the root configuration structure for dockd.
type Config struct {
	Station   StationConfig   `mapstructure:"station"`
	Account   AccountConfig   `mapstructure:"account"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Charging  ChargingConfig  `mapstructure:"charging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Report    ReportConfig    `mapstructure:"report"`
}

// StationConfig describes the docking station hardware.
type StationConfig struct {
	// Station serial number; empty until the station is serialized
	SerialNumber string `mapstructure:"serial_number"`

	// Instrument family the station accepts (MX4, MX6, ...)
	InstrumentType string `mapstructure:"instrument_type"`

	// Station firmware version
	SoftwareVersion string `mapstructure:"software_version"`

	// IANA timezone used for schedule arithmetic
	Timezone string `mapstructure:"timezone"`

	// Activated stations follow server schedules; others run in cal-station mode
	Activated bool `mapstructure:"activated"`

	// Whether the local settings match the server's at startup. Scheduling
	// waits while false, until the server pushes a sync.
	Synchronized bool `mapstructure:"synchronized"`

	// Gas codes attached to the station's cylinders
	AvailableGases []string `mapstructure:"available_gases"`

	// Serial numbers or glob patterns of decommissioned equipment
	ReplacedEquipment []string `mapstructure:"replaced_equipment"`
}

// AccountConfig holds account-level scheduling switches.
type AccountConfig struct {
	Manufacturing               bool `mapstructure:"manufacturing"`
	StopOnFailedBump            bool `mapstructure:"stop_on_failed_bump"`
	ContinueGasOpsDuringUpgrade bool `mapstructure:"continue_gas_ops_during_upgrade"`
}

// SchedulerConfig holds decision engine settings.
type SchedulerConfig struct {
	// Event code run on docking while the station is not activated
	CalStationEventCode string `mapstructure:"cal_station_event_code"`

	// Instrument firmware from which drifted DualSense pairs are bumped on docking
	DualSenseMinVersion string `mapstructure:"dual_sense_min_version"`
}

// ExecutorConfig holds control loop timing.
type ExecutorConfig struct {
	// Interval between executor ticks
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// Interval between instrument presence checks
	PresenceInterval time.Duration `mapstructure:"presence_interval"`

	// Interval between heartbeats
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// Idle time after which a non-rechargeable instrument is powered off
	IdlePowerOff time.Duration `mapstructure:"idle_power_off"`

	// Pause after powering an instrument off
	PowerOffDelay time.Duration `mapstructure:"power_off_delay"`

	// Retry interval for dead-battery instruments
	LowBatteryRetry time.Duration `mapstructure:"low_battery_retry"`

	// Retry interval for instrument types listed in fast_retry_types
	LowBatteryFastRetry time.Duration `mapstructure:"low_battery_fast_retry"`

	// Instrument types that use the fast retry interval
	FastRetryTypes []string `mapstructure:"fast_retry_types"`
}

// ChargingConfig holds battery monitor settings.
type ChargingConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`

	// Include timestamp
	Timestamp bool `mapstructure:"timestamp"`

	// Output file (empty for stdout)
	Output string `mapstructure:"output"`
}

// AdminConfig holds the local admin HTTP endpoint settings.
type AdminConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ReportConfig holds outbox delivery settings.
type ReportConfig struct {
	// Interval between delivery attempts
	UploadInterval time.Duration `mapstructure:"upload_interval"`

	// Records handed to the uploader per attempt
	BatchSize int `mapstructure:"batch_size"`

	// Interval between cleanup passes
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// How long delivered records are kept
	Retention time.Duration `mapstructure:"retention"`

	// Server reachability assumed at startup; every delivery attempt updates it
	AssumeConnected bool `mapstructure:"assume_connected"`
}

// Address returns the admin server address in host:port format.
func (a *AdminConfig) Address() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Location loads the station timezone. An empty timezone is UTC.
func (s *StationConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}
