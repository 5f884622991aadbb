package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

type LoadOptions struct {
	ConfigFile string
	EnvPrefix  string
	Defaults   *Config
}

func Load(opts LoadOptions) (*Config, error) {
	v, err := newViper(opts)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func LoadFromFile(path string) (*Config, error) {
	return Load(LoadOptions{ConfigFile: path})
}

func LoadWithDefaults() (*Config, error) {
	return Load(LoadOptions{})
}

// Watch reloads the configuration file whenever it changes and hands each valid
// result to onChange. Invalid edits are logged and skipped. It returns
// ErrConfigNotFound when no configuration file is in use.
func Watch(opts LoadOptions, onChange func(*Config)) error {
	v, err := newViper(opts)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		return ErrConfigNotFound
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid configuration change")
			return
		}
		log.Info().Str("file", e.Name).Msg("Configuration reloaded")
		onChange(cfg)
	})
	v.WatchConfig()

	log.Debug().Str("file", v.ConfigFileUsed()).Msg("Watching configuration")
	return nil
}

func newViper(opts LoadOptions) (*viper.Viper, error) {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "DOCKD"
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("dockd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/dockd")
		v.AddConfigPath("/etc/dockd")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	expandEnvInConfig(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("station.serial_number", cfg.Station.SerialNumber)
	v.SetDefault("station.instrument_type", cfg.Station.InstrumentType)
	v.SetDefault("station.software_version", cfg.Station.SoftwareVersion)
	v.SetDefault("station.timezone", cfg.Station.Timezone)
	v.SetDefault("station.activated", cfg.Station.Activated)
	v.SetDefault("station.synchronized", cfg.Station.Synchronized)
	v.SetDefault("station.available_gases", cfg.Station.AvailableGases)
	v.SetDefault("station.replaced_equipment", cfg.Station.ReplacedEquipment)

	v.SetDefault("account.manufacturing", cfg.Account.Manufacturing)
	v.SetDefault("account.stop_on_failed_bump", cfg.Account.StopOnFailedBump)
	v.SetDefault("account.continue_gas_ops_during_upgrade", cfg.Account.ContinueGasOpsDuringUpgrade)

	v.SetDefault("scheduler.cal_station_event_code", cfg.Scheduler.CalStationEventCode)
	v.SetDefault("scheduler.dual_sense_min_version", cfg.Scheduler.DualSenseMinVersion)

	v.SetDefault("executor.tick_interval", cfg.Executor.TickInterval)
	v.SetDefault("executor.presence_interval", cfg.Executor.PresenceInterval)
	v.SetDefault("executor.heartbeat_interval", cfg.Executor.HeartbeatInterval)
	v.SetDefault("executor.idle_power_off", cfg.Executor.IdlePowerOff)
	v.SetDefault("executor.power_off_delay", cfg.Executor.PowerOffDelay)
	v.SetDefault("executor.low_battery_retry", cfg.Executor.LowBatteryRetry)
	v.SetDefault("executor.low_battery_fast_retry", cfg.Executor.LowBatteryFastRetry)
	v.SetDefault("executor.fast_retry_types", cfg.Executor.FastRetryTypes)

	v.SetDefault("charging.enabled", cfg.Charging.Enabled)
	v.SetDefault("charging.poll_interval", cfg.Charging.PollInterval)

	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.wal_mode", cfg.Database.WALMode)
	v.SetDefault("database.cache_size", cfg.Database.CacheSize)
	v.SetDefault("database.busy_timeout", cfg.Database.BusyTimeout)
	v.SetDefault("database.foreign_keys", cfg.Database.ForeignKeys)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.caller", cfg.Logging.Caller)
	v.SetDefault("logging.timestamp", cfg.Logging.Timestamp)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("admin.enabled", cfg.Admin.Enabled)
	v.SetDefault("admin.host", cfg.Admin.Host)
	v.SetDefault("admin.port", cfg.Admin.Port)
	v.SetDefault("admin.read_timeout", cfg.Admin.ReadTimeout)
	v.SetDefault("admin.write_timeout", cfg.Admin.WriteTimeout)

	v.SetDefault("report.upload_interval", cfg.Report.UploadInterval)
	v.SetDefault("report.batch_size", cfg.Report.BatchSize)
	v.SetDefault("report.cleanup_interval", cfg.Report.CleanupInterval)
	v.SetDefault("report.retention", cfg.Report.Retention)
	v.SetDefault("report.assume_connected", cfg.Report.AssumeConnected)
}

func expandEnvInConfig(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envVar := val[2 : len(val)-1]
			if envVal := os.Getenv(envVar); envVal != "" {
				v.Set(key, envVal)
			}
		}
	}
}

func ConfigFilePath(customPath string) (string, error) {
	if customPath != "" {
		absPath, err := filepath.Abs(customPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", absPath)
		}
		return absPath, nil
	}

	searchPaths := []string{
		"dockd.yaml",
		"dockd.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "dockd", "dockd.yaml"),
		"/etc/dockd/dockd.yaml",
	}

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", ErrConfigNotFound
}
