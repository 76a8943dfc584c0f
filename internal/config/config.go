package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig       `yaml:"log"`
	Database        DatabaseConfig  `yaml:"database"`
	Ledger          LedgerConfig    `yaml:"ledger"`
	EventBus        EventBusConfig  `yaml:"eventbus"`
	HTTP            HTTPConfig      `yaml:"http"`
	MQTT            MQTTConfig      `yaml:"mqtt"`
	Hue             HueConfig       `yaml:"hue"`
	Lock            LockConfig      `yaml:"lock"`
	Switching       SwitchingConfig `yaml:"switching"`
	Script          string          `yaml:"script"`   // Optional Lua hook script
	Timezone        string          `yaml:"timezone"` // Zone the weekly plans are authored in
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"`
	Switches        []SwitchConfig  `yaml:"switches" validate:"required,min=1,unique=ID,dive"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level         string   `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Colors        bool     `yaml:"colors"`
	UseJSON       bool     `yaml:"json"`
	PrintSchedule Duration `yaml:"print_schedule"` // Interval to print today's schedule (0 = disabled)
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days" validate:"gte=0"`
}

// Retention returns how long ledger entries are kept.
func (c *LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// HTTPConfig contains the API server settings
type HTTPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port" validate:"gte=0,lte=65535"`
	RateLimit int    `yaml:"rate_limit"` // Requests per second per client IP

	CORSOrigins []string `yaml:"cors_origins"` // Origins allowed to embed the visualization
}

// Addr returns host:port for the listener.
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MQTTConfig contains broker connection settings shared by all MQTT devices
type MQTTConfig struct {
	Broker         string   `yaml:"broker"`
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// HueConfig contains Hue bridge connection settings
type HueConfig struct {
	Bridge string `yaml:"bridge"`
	Token  string `yaml:"token"`
}

// LockConfig selects the switch lock backend and its acquisition policy
type LockConfig struct {
	Backend       string   `yaml:"backend" validate:"omitempty,oneof=memory redis"`
	RedisAddr     string   `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
	TTL           Duration `yaml:"ttl"` // Lease of a redis lock
	Retries       int      `yaml:"retries" validate:"gte=0"`
	MinBackoff    Duration `yaml:"min_backoff"`
	MaxBackoff    Duration `yaml:"max_backoff" validate:"gtefield=MinBackoff"`
}

// SwitchingConfig limits how fast device commands are sent
type SwitchingConfig struct {
	RateLimitRPS float64 `yaml:"rate_limit_rps" validate:"gte=0"`
}

// SwitchConfig describes one logical switch
type SwitchConfig struct {
	ID              string         `yaml:"id" validate:"required"`
	Name            string         `yaml:"name"`
	InventoryNumber *int           `yaml:"number" validate:"omitempty,gte=-1"` // -1 or unset hides it
	Devices         []DeviceConfig `yaml:"devices" validate:"required,min=1,unique=ID,dive"`
	Schedule        ScheduleConfig `yaml:"schedule"`
}

// Number renders the inventory number zero-padded to two digits, or "" when
// none is configured.
func (c *SwitchConfig) Number() string {
	if c.InventoryNumber == nil || *c.InventoryNumber < 0 {
		return ""
	}
	return fmt.Sprintf("%02d", *c.InventoryNumber)
}

// DeviceConfig describes one boolean device driven by a switch
type DeviceConfig struct {
	ID   string `yaml:"id" validate:"required"`
	Type string `yaml:"type" validate:"required,oneof=mqtt gpio hue fake"`

	// mqtt
	CommandTopic string `yaml:"command_topic" validate:"required_if=Type mqtt"`
	StateTopic   string `yaml:"state_topic"`
	PayloadOn    string `yaml:"payload_on"`
	PayloadOff   string `yaml:"payload_off"`
	Retain       bool   `yaml:"retain"`

	// gpio
	Chip      string `yaml:"chip"`
	Line      int    `yaml:"line" validate:"gte=0"`
	ActiveLow bool   `yaml:"active_low"`

	// hue
	Light int `yaml:"light" validate:"required_if=Type hue"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file.
// A .env file next to it, if any, is loaded into the environment first.
func Load(path string) (*Config, error) {
	// Missing .env is fine; existing variables are never overridden.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes, defaults and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./switchd.sqlite"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// HTTP defaults
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.RateLimit == 0 {
		cfg.HTTP.RateLimit = 20
	}
	if len(cfg.HTTP.CORSOrigins) == 0 {
		cfg.HTTP.CORSOrigins = []string{"*"}
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "switchd"
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}

	// Lock defaults: 100 attempts with 1-5ms pauses
	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = "memory"
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = Duration(10 * time.Second)
	}
	if cfg.Lock.Retries == 0 {
		cfg.Lock.Retries = 100
	}
	if cfg.Lock.MinBackoff == 0 {
		cfg.Lock.MinBackoff = Duration(time.Millisecond)
	}
	if cfg.Lock.MaxBackoff == 0 {
		cfg.Lock.MaxBackoff = Duration(5 * time.Millisecond)
	}

	// Switching defaults
	if cfg.Switching.RateLimitRPS == 0 {
		cfg.Switching.RateLimitRPS = 10.0
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	for i := range cfg.Switches {
		sw := &cfg.Switches[i]
		if sw.Name == "" {
			sw.Name = sw.ID
		}
		if sw.Schedule.MisfirePolicy == "" {
			sw.Schedule.MisfirePolicy = "run_latest"
		}
		for j := range sw.Devices {
			d := &sw.Devices[j]
			if d.PayloadOn == "" {
				d.PayloadOn = "ON"
			}
			if d.PayloadOff == "" {
				d.PayloadOff = "OFF"
			}
			if d.Chip == "" {
				d.Chip = "gpiochip0"
			}
		}
	}
}

// Validate checks struct constraints and builds every weekly plan once.
func (cfg *Config) Validate() error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	var errs []error
	for _, sw := range cfg.Switches {
		if _, err := sw.Schedule.Build(loc); err != nil {
			errs = append(errs, fmt.Errorf("switch %q: %w", sw.ID, err))
		}
		for _, d := range sw.Devices {
			if d.Type == "mqtt" && cfg.MQTT.Broker == "" {
				errs = append(errs, fmt.Errorf("switch %q device %q: mqtt.broker is not configured", sw.ID, d.ID))
			}
			if d.Type == "hue" && cfg.Hue.Bridge == "" {
				errs = append(errs, fmt.Errorf("switch %q device %q: hue.bridge is not configured", sw.ID, d.ID))
			}
		}
	}
	return errors.Join(errs...)
}

// Location returns the configured time zone.
func (cfg *Config) Location() (*time.Location, error) {
	if cfg.Timezone == "" || cfg.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	return loc, nil
}

// GetShutdownTimeout returns the shutdown timeout
func (cfg *Config) GetShutdownTimeout() time.Duration {
	return cfg.ShutdownTimeout.Duration()
}

// Switch returns the switch with the given id.
func (cfg *Config) Switch(id string) (*SwitchConfig, bool) {
	for i := range cfg.Switches {
		if cfg.Switches[i].ID == id {
			return &cfg.Switches[i], true
		}
	}
	return nil, false
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
