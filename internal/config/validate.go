package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/watzon/dockd/internal/model"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateStation(&cfg.Station)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateExecutor(&cfg.Executor)...)
	errs = append(errs, validateCharging(&cfg.Charging)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateAdmin(&cfg.Admin)...)
	errs = append(errs, validateReport(&cfg.Report)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateStation(cfg *StationConfig) ValidationErrors {
	var errs ValidationErrors

	if !model.InstrumentType(cfg.InstrumentType).Known() {
		errs = append(errs, ValidationError{
			Field:   "station.instrument_type",
			Message: fmt.Sprintf("unknown instrument type %q", cfg.InstrumentType),
		})
	}

	if _, err := cfg.Location(); err != nil {
		errs = append(errs, ValidationError{
			Field:   "station.timezone",
			Message: err.Error(),
		})
	}

	for i, pattern := range cfg.ReplacedEquipment {
		if _, err := glob.Compile(pattern); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("station.replaced_equipment[%d]", i),
				Message: fmt.Sprintf("invalid pattern: %v", err),
			})
		}
	}

	return errs
}

func validateScheduler(cfg *SchedulerConfig) ValidationErrors {
	var errs ValidationErrors

	if _, ok := model.LookupEventCode(cfg.CalStationEventCode); !ok {
		errs = append(errs, ValidationError{
			Field:   "scheduler.cal_station_event_code",
			Message: fmt.Sprintf("unknown event code %q", cfg.CalStationEventCode),
		})
	}

	return errs
}

func validateExecutor(cfg *ExecutorConfig) ValidationErrors {
	var errs ValidationErrors

	positive := []struct {
		field string
		value time.Duration
	}{
		{"executor.tick_interval", cfg.TickInterval},
		{"executor.presence_interval", cfg.PresenceInterval},
		{"executor.heartbeat_interval", cfg.HeartbeatInterval},
		{"executor.low_battery_retry", cfg.LowBatteryRetry},
		{"executor.low_battery_fast_retry", cfg.LowBatteryFastRetry},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, ValidationError{
				Field:   p.field,
				Message: "must be positive",
			})
		}
	}

	if cfg.IdlePowerOff < 0 {
		errs = append(errs, ValidationError{
			Field:   "executor.idle_power_off",
			Message: "must not be negative",
		})
	}
	if cfg.PowerOffDelay < 0 {
		errs = append(errs, ValidationError{
			Field:   "executor.power_off_delay",
			Message: "must not be negative",
		})
	}

	for i, t := range cfg.FastRetryTypes {
		if !model.InstrumentType(t).Known() {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("executor.fast_retry_types[%d]", i),
				Message: fmt.Sprintf("unknown instrument type %q", t),
			})
		}
	}

	return errs
}

func validateCharging(cfg *ChargingConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Enabled && cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "charging.poll_interval",
			Message: "must be positive",
		})
	}

	return errs
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "is required",
		})
	}

	if cfg.MaxOpenConns < 1 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be at least 1",
		})
	}

	if cfg.MaxIdleConns < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_idle_conns",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}

func validateAdmin(cfg *AdminConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "admin.port",
			Message: "must be between 1 and 65535",
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "admin.read_timeout",
			Message: "must not be negative",
		})
	}

	if cfg.WriteTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "admin.write_timeout",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateReport(cfg *ReportConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.UploadInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "report.upload_interval",
			Message: "must be positive",
		})
	}

	if cfg.BatchSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "report.batch_size",
			Message: "must be at least 1",
		})
	}

	if cfg.Retention < time.Hour {
		errs = append(errs, ValidationError{
			Field:   "report.retention",
			Message: "must be at least 1h",
		})
	}

	return errs
}
