package config

import "time"

// Default configuration values.
const (
	// Station defaults.
	DefaultInstrumentType = "MX6"
	DefaultTimezone       = "UTC"

	// Scheduler defaults.
	DefaultCalStationEventCode = "CAL"
	DefaultDualSenseMinVersion = "4.0"

	// Executor defaults.
	DefaultTickInterval        = time.Second
	DefaultPresenceInterval    = 2 * time.Second
	DefaultHeartbeatInterval   = 5 * time.Minute
	DefaultIdlePowerOff        = 30 * time.Minute
	DefaultPowerOffDelay       = 5 * time.Second
	DefaultLowBatteryRetry     = 20 * time.Minute
	DefaultLowBatteryFastRetry = time.Minute

	// Charging defaults.
	DefaultChargingPoll = 30 * time.Second

	// Database defaults.
	DefaultDBPath       = "dockd.db"
	DefaultCacheSize    = -16000 // 16MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Admin defaults.
	DefaultAdminHost = "localhost"
	DefaultAdminPort = 8095

	// Report defaults.
	DefaultUploadInterval  = 10 * time.Second
	DefaultUploadBatch     = 50
	DefaultCleanupInterval = time.Hour
	DefaultRetention       = 7 * 24 * time.Hour
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Station: StationConfig{
			InstrumentType: DefaultInstrumentType,
			Timezone:       DefaultTimezone,
			Activated:      true,
			Synchronized:   true,
		},
		Scheduler: SchedulerConfig{
			CalStationEventCode: DefaultCalStationEventCode,
			DualSenseMinVersion: DefaultDualSenseMinVersion,
		},
		Executor: ExecutorConfig{
			TickInterval:        DefaultTickInterval,
			PresenceInterval:    DefaultPresenceInterval,
			HeartbeatInterval:   DefaultHeartbeatInterval,
			IdlePowerOff:        DefaultIdlePowerOff,
			PowerOffDelay:       DefaultPowerOffDelay,
			LowBatteryRetry:     DefaultLowBatteryRetry,
			LowBatteryFastRetry: DefaultLowBatteryFastRetry,
			FastRetryTypes:      []string{"VPRO"},
		},
		Charging: ChargingConfig{
			Enabled:      true,
			PollInterval: DefaultChargingPoll,
		},
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			ForeignKeys:     true,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: 0, // No limit
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
		},
		Admin: AdminConfig{
			Enabled:      true,
			Host:         DefaultAdminHost,
			Port:         DefaultAdminPort,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Report: ReportConfig{
			UploadInterval:  DefaultUploadInterval,
			BatchSize:       DefaultUploadBatch,
			CleanupInterval: DefaultCleanupInterval,
			Retention:       DefaultRetention,
			AssumeConnected: true,
		},
	}
}
