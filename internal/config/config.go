package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/otnpmon/internal/errors"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix       = "OTNPMON"
	DefaultLogLevel = "info"

	defaultConfigName      = "otnpmon"
	defaultConfigDir       = "/etc"
	defaultSyncInterval    = 3 * time.Second
	defaultThermalInterval = time.Second
	defaultDevSpec         = "/usr/share/sonic/platform/dev_spec.json"
	defaultPIDFile         = "/run/otnpmond.pid"
	defaultSocket          = "/var/run/platform/periph.sock"
	defaultRetryAttempts   = 35
	defaultRetryDelay      = time.Second
	defaultStoreBackend    = StoreSQLite
	defaultStorePath       = "/var/lib/otnpmon/store.db"
	defaultPurgeInterval   = 10 * time.Minute
	defaultMetricsListen   = "127.0.0.1:9102"
	defaultTelemetryTopic  = "otn.alarms"
)

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

type Config struct {
	LogLevel        string          `mapstructure:"log_level"`
	SyncInterval    time.Duration   `mapstructure:"sync_interval"`
	ThermalInterval time.Duration   `mapstructure:"thermal_interval"`
	DevSpec         string          `mapstructure:"devspec"`
	PIDFile         string          `mapstructure:"pid_file"`
	Hardware        HardwareConfig  `mapstructure:"hardware"`
	Store           StoreConfig     `mapstructure:"store"`
	Metrics         MetricsConfig   `mapstructure:"metrics"`
	Telemetry       TelemetryConfig `mapstructure:"telemetry"`
	// ManualFans pins fan slots to a fixed rate, keyed by slot number.
	ManualFans map[string]int `mapstructure:"manual_fans"`
}

type HardwareConfig struct {
	Socket        string        `mapstructure:"socket"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type StoreConfig struct {
	Backend       string        `mapstructure:"backend"`
	Path          string        `mapstructure:"path"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type TelemetryConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Load reads configuration from (lowest to highest precedence) built-in
// defaults, the TOML config file, OTNPMON_* environment variables and
// command line flags.
func Load(args []string) (*Config, error) {
	errFactory := errors.New()
	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet("otnpmond", pflag.ContinueOnError)
	configPath := fs.String("config", "", "Path to the TOML configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Duration("sync-interval", defaultSyncInterval, "Interval between peripheral synchronizations")
	fs.Duration("thermal-interval", defaultThermalInterval, "Interval between fan control iterations")
	fs.String("devspec", defaultDevSpec, "Path to the device spec document")
	fs.String("hardware-socket", defaultSocket, "Unix socket of the platform hardware service")
	fs.String("store-path", defaultStorePath, "Path to the sqlite store")
	fs.Bool("metrics", false, "Expose Prometheus metrics")
	fs.String("metrics-listen", defaultMetricsListen, "Listen address of the metrics endpoint")

	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}

	bindings := map[string]string{
		"log_level":        "log-level",
		"sync_interval":    "sync-interval",
		"thermal_interval": "thermal-interval",
		"devspec":          "devspec",
		"hardware.socket":  "hardware-socket",
		"store.path":       "store-path",
		"metrics.enabled":  "metrics",
		"metrics.listen":   "metrics-listen",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, *configPath); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("sync_interval", defaultSyncInterval)
	v.SetDefault("thermal_interval", defaultThermalInterval)
	v.SetDefault("devspec", defaultDevSpec)
	v.SetDefault("pid_file", defaultPIDFile)
	v.SetDefault("hardware.socket", defaultSocket)
	v.SetDefault("hardware.retry_attempts", defaultRetryAttempts)
	v.SetDefault("hardware.retry_delay", defaultRetryDelay)
	v.SetDefault("store.backend", defaultStoreBackend)
	v.SetDefault("store.path", defaultStorePath)
	v.SetDefault("store.purge_interval", defaultPurgeInterval)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", defaultMetricsListen)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.brokers", []string{})
	v.SetDefault("telemetry.topic", defaultTelemetryTopic)
}

// readConfigFile loads an explicit file (flag or OTNPMON_CONFIG) or searches
// /etc for otnpmon.toml. Only the search may come up empty.
func readConfigFile(v *viper.Viper, flagPath string) error {
	errFactory := errors.New()

	path := flagPath
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(defaultConfigName)
	v.AddConfigPath(defaultConfigDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	errFactory := errors.New()

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warning", "warn", "error":
	default:
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.SyncInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "sync_interval")
	}
	if c.ThermalInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "thermal_interval")
	}
	if c.Hardware.RetryAttempts < 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, "hardware.retry_attempts must be >= 1")
	}
	if c.Hardware.RetryDelay < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "hardware.retry_delay must not be negative")
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			return errFactory.WithData(errors.ErrInvalidConfig, "store.path is required for the sqlite backend")
		}
	default:
		return errFactory.WithData(errors.ErrInvalidConfig, "unknown store.backend "+c.Store.Backend)
	}

	if c.Telemetry.Enabled && len(c.Telemetry.Brokers) == 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "telemetry.brokers is required when telemetry is enabled")
	}

	if _, err := c.FanOverrides(); err != nil {
		return err
	}

	return nil
}

// FanOverrides returns ManualFans keyed by slot number.
func (c *Config) FanOverrides() (map[int]int, error) {
	errFactory := errors.New()

	overrides := make(map[int]int, len(c.ManualFans))
	for key, rate := range c.ManualFans {
		slot, err := cast.ToIntE(key)
		if err != nil || slot <= 0 {
			return nil, errFactory.WithData(errors.ErrInvalidConfig, "manual_fans: bad fan slot "+key)
		}
		if rate < 0 || rate > 100 {
			return nil, errFactory.WithData(errors.ErrInvalidConfig, "manual_fans: rate of fan "+key+" must be 0-100")
		}
		overrides[slot] = rate
	}
	return overrides, nil
}
