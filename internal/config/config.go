package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrThresholdMisconfiguration marks a throttle, consumption or alert setting that cannot be used.
// It is fatal at startup.
var ErrThresholdMisconfiguration = errors.New("threshold misconfiguration")

const envPrefix = "AQUASYNC"

// Config is the full application configuration.
type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	DB          DBConfig          `mapstructure:"db"`
	Log         LogConfig         `mapstructure:"log"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Store       StoreConfig       `mapstructure:"store"`
	Throttle    ThrottleConfig    `mapstructure:"throttle"`
	Consumption ConsumptionConfig `mapstructure:"consumption"`
	Battery     BatteryConfig     `mapstructure:"battery"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	SMS         SMSConfig         `mapstructure:"sms"`
	Simulator   SimulatorConfig   `mapstructure:"simulator"`
}

type HTTPConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console | json
}

type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	// OwnerCode gates registration when non-empty.
	OwnerCode string `mapstructure:"owner_code"`
}

// StoreConfig bounds every datastore round-trip.
type StoreConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	PurgeBatch int           `mapstructure:"purge_batch"`
}

type ThrottleConfig struct {
	Sensor SensorThrottle `mapstructure:"sensor"`
	Power  PowerThrottle  `mapstructure:"power"`
}

// SensorThrottle governs sensor_logs writes.
type SensorThrottle struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	FlowDelta   float64       `mapstructure:"flow_delta"` // L/min
}

// PowerThrottle governs power_logs writes.
type PowerThrottle struct {
	MinInterval  time.Duration `mapstructure:"min_interval"`
	VoltageDelta float64       `mapstructure:"voltage_delta"` // V
	CurrentDelta float64       `mapstructure:"current_delta"` // A
	PercentDelta float64       `mapstructure:"percent_delta"` // %
}

type ConsumptionConfig struct {
	PersistInterval time.Duration `mapstructure:"persist_interval"`
	Timezone        string        `mapstructure:"timezone"`
}

// BatteryConfig is the linear voltage to percent mapping.
type BatteryConfig struct {
	EmptyVoltage float64 `mapstructure:"empty_voltage"`
	FullVoltage  float64 `mapstructure:"full_voltage"`
}

type AlertsConfig struct {
	LeakDifferential float64       `mapstructure:"leak_differential"` // L/min, 0 disables derivation
	BatteryCritical  float64       `mapstructure:"battery_critical"`  // %, 0 disables
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

type SMSConfig struct {
	URL          string `mapstructure:"url"` // empty means log-only dispatch
	Exchange     string `mapstructure:"exchange"`
	RoutingKey   string `mapstructure:"routing_key"`
	InboundQueue string `mapstructure:"inbound_queue"`
	InboundKey   string `mapstructure:"inbound_key"`
	MaxAttempts  int    `mapstructure:"max_attempts"`
	DefaultAdmin string `mapstructure:"default_admin"`
}

type SimulatorConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	AccountID string        `mapstructure:"account_id"`
	Tick      time.Duration `mapstructure:"tick"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("db.path", "aquasync.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("auth.signing_key", "change-me")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("auth.owner_code", "")
	v.SetDefault("store.timeout", 3*time.Second)
	v.SetDefault("store.purge_batch", 100)
	v.SetDefault("throttle.sensor.min_interval", 5*time.Minute)
	v.SetDefault("throttle.sensor.flow_delta", 0.5)
	v.SetDefault("throttle.power.min_interval", 10*time.Minute)
	v.SetDefault("throttle.power.voltage_delta", 0.2)
	v.SetDefault("throttle.power.current_delta", 0.5)
	v.SetDefault("throttle.power.percent_delta", 5.0)
	v.SetDefault("consumption.persist_interval", 30*time.Minute)
	v.SetDefault("consumption.timezone", "UTC")
	v.SetDefault("battery.empty_voltage", 11.8)
	v.SetDefault("battery.full_voltage", 12.7)
	v.SetDefault("alerts.leak_differential", 1.0)
	v.SetDefault("alerts.battery_critical", 10.0)
	v.SetDefault("alerts.cooldown", time.Duration(0))
	// keys without a meaningful default are still registered so env overrides unmarshal
	v.SetDefault("sms.url", "")
	v.SetDefault("sms.default_admin", "")
	v.SetDefault("sms.exchange", "aquasync.sms")
	v.SetDefault("sms.routing_key", "sms.outbound")
	v.SetDefault("sms.inbound_queue", "aquasync.sms.inbound")
	v.SetDefault("sms.inbound_key", "sms.inbound")
	v.SetDefault("sms.max_attempts", 3)
	v.SetDefault("simulator.enabled", false)
	v.SetDefault("simulator.account_id", "ACC_1")
	v.SetDefault("simulator.tick", 5*time.Second)
}

// Default returns the configuration with every default applied and no file or env read.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults are well-formed, decoding cannot fail
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads an optional .env, then configs/config.yml from dir, then AQUASYNC_* env overrides.
func Load(dir string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func misconfigured(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrThresholdMisconfiguration, fmt.Sprintf(format, args...))
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Throttle.Sensor.MinInterval <= 0 {
		return misconfigured("throttle.sensor.min_interval must be > 0, got %s", c.Throttle.Sensor.MinInterval)
	}
	if c.Throttle.Power.MinInterval <= 0 {
		return misconfigured("throttle.power.min_interval must be > 0, got %s", c.Throttle.Power.MinInterval)
	}
	for name, v := range map[string]float64{
		"throttle.sensor.flow_delta":   c.Throttle.Sensor.FlowDelta,
		"throttle.power.voltage_delta": c.Throttle.Power.VoltageDelta,
		"throttle.power.current_delta": c.Throttle.Power.CurrentDelta,
		"throttle.power.percent_delta": c.Throttle.Power.PercentDelta,
		"alerts.leak_differential":     c.Alerts.LeakDifferential,
		"alerts.battery_critical":      c.Alerts.BatteryCritical,
	} {
		if v < 0 {
			return misconfigured("%s must be >= 0, got %v", name, v)
		}
	}
	if c.Consumption.PersistInterval <= 0 {
		return misconfigured("consumption.persist_interval must be > 0, got %s", c.Consumption.PersistInterval)
	}
	if _, err := time.LoadLocation(c.Consumption.Timezone); err != nil {
		return misconfigured("consumption.timezone %q: %v", c.Consumption.Timezone, err)
	}
	if c.Battery.EmptyVoltage >= c.Battery.FullVoltage {
		return misconfigured("battery.empty_voltage %.2f must be below battery.full_voltage %.2f",
			c.Battery.EmptyVoltage, c.Battery.FullVoltage)
	}
	if c.Alerts.BatteryCritical > 100 {
		return misconfigured("alerts.battery_critical must be <= 100, got %v", c.Alerts.BatteryCritical)
	}
	if c.Alerts.Cooldown < 0 {
		return misconfigured("alerts.cooldown must be >= 0, got %s", c.Alerts.Cooldown)
	}
	if c.SMS.MaxAttempts < 1 {
		return misconfigured("sms.max_attempts must be >= 1, got %d", c.SMS.MaxAttempts)
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("store.timeout must be > 0, got %s", c.Store.Timeout)
	}
	if c.Store.PurgeBatch < 1 {
		return fmt.Errorf("store.purge_batch must be >= 1, got %d", c.Store.PurgeBatch)
	}
	return nil
}

// Location returns the consumption period timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Consumption.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
