// Package config handles YAML configuration for cirrus.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/cirrus/pkg/resource"
)

// Modes select where adapters and handlers come from.
const (
	ModeAWS     = "aws"
	ModeOffline = "offline"
)

// History backends.
const (
	BackendBolt   = "bolt"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Config is the root configuration structure.
type Config struct {
	Mode      string          `yaml:"mode" validate:"oneof=aws offline"`
	AWS       AWSConfig       `yaml:"aws"`
	Offline   OfflineConfig   `yaml:"offline"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Executor  ExecutorConfig  `yaml:"executor"`
	History   HistoryConfig   `yaml:"history"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
	Events    EventsConfig    `yaml:"events"`
	API       APIConfig       `yaml:"api"`
	OTEL      OTELConfig      `yaml:"otel"`
	Log       LogConfig       `yaml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`
}

// OfflineConfig points at a fixtures file. Empty means the built-in demo estate.
type OfflineConfig struct {
	Fixtures string `yaml:"fixtures"`
}

// DiscoveryConfig holds discovery and auto-discovery settings.
type DiscoveryConfig struct {
	Interval    time.Duration `yaml:"interval" validate:"gte=0"`
	CallTimeout time.Duration `yaml:"call_timeout" validate:"gte=0"`
	// Disabled families are never called.
	Disabled []string `yaml:"disabled"`
	// Auto starts the scheduler when a console is built. Defaults to true.
	Auto bool `yaml:"auto"`
}

// ExecutorConfig holds action engine settings.
type ExecutorConfig struct {
	RestartGrace     time.Duration `yaml:"restart_grace" validate:"gte=0"`
	CallTimeout      time.Duration `yaml:"call_timeout" validate:"gte=0"`
	RateLimit        float64       `yaml:"rate_limit" validate:"gte=0"`
	Burst            int           `yaml:"burst" validate:"gte=0"`
	BatchConcurrency int           `yaml:"batch_concurrency" validate:"gte=0"`
}

// HistoryConfig holds command history settings.
type HistoryConfig struct {
	Backend  string `yaml:"backend" validate:"oneof=bolt file memory"`
	Path     string `yaml:"path"`
	Capacity int    `yaml:"capacity" validate:"gte=1"`
	// JournalDir enables the append-only command journal when set.
	JournalDir string `yaml:"journal_dir"`
}

// MetricsConfig holds metrics estimator settings.
type MetricsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0,lte=30s"`
	Window   time.Duration `yaml:"window" validate:"gte=0"`
	Period   time.Duration `yaml:"period" validate:"gte=0"`
	RedisURL string        `yaml:"redis_url" validate:"omitempty,url"`
	// Monitoring enables the CloudWatch backend in aws mode.
	Monitoring bool `yaml:"monitoring"`
}

// HealthConfig holds health thresholds in percent.
type HealthConfig struct {
	HighWater float64 `yaml:"high_water" validate:"gt=0,lte=100"`
	LowWater  float64 `yaml:"low_water" validate:"gte=0,lte=100"`
}

// EventsConfig holds change event publishing settings. Changes are always
// logged; RedisURL additionally publishes them on Channel.
type EventsConfig struct {
	RedisURL string `yaml:"redis_url" validate:"omitempty,url"`
	Channel  string `yaml:"channel"`
}

// APIConfig holds the HTTP listener settings.
type APIConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	Prometheus  bool    `yaml:"prometheus"`
	SampleRate  float64 `yaml:"sample_rate" validate:"gte=0,lte=1"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := base()
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML config file. An empty path yields defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := base()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// base holds the defaults a zero value cannot express.
func base() *Config {
	return &Config{Discovery: DiscoveryConfig{Auto: true}}
}

func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeAWS
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.Discovery.Interval == 0 {
		cfg.Discovery.Interval = 30 * time.Second
	}
	if cfg.Discovery.CallTimeout == 0 {
		cfg.Discovery.CallTimeout = 20 * time.Second
	}
	if cfg.Executor.RestartGrace == 0 {
		cfg.Executor.RestartGrace = 5 * time.Second
	}
	if cfg.Executor.CallTimeout == 0 {
		cfg.Executor.CallTimeout = 30 * time.Second
	}
	if cfg.Executor.Burst == 0 {
		cfg.Executor.Burst = 1
	}
	if cfg.Executor.BatchConcurrency == 0 {
		cfg.Executor.BatchConcurrency = 4
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = BackendMemory
	}
	if cfg.History.Capacity == 0 {
		cfg.History.Capacity = 100
	}
	if cfg.Metrics.CacheTTL == 0 {
		cfg.Metrics.CacheTTL = 30 * time.Second
	}
	if cfg.Metrics.Window == 0 {
		cfg.Metrics.Window = time.Hour
	}
	if cfg.Metrics.Period == 0 {
		cfg.Metrics.Period = 5 * time.Minute
	}
	if cfg.Health.HighWater == 0 {
		cfg.Health.HighWater = 80
	}
	if cfg.Health.LowWater == 0 {
		cfg.Health.LowWater = 20
	}
	if cfg.Events.Channel == "" {
		cfg.Events.Channel = "cirrus:changes"
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8080"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "cirrus"
	}
	if cfg.OTEL.SampleRate == 0 {
		cfg.OTEL.SampleRate = 1.0
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s: failed on %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return err
	}
	if c.Health.LowWater >= c.Health.HighWater {
		return fmt.Errorf("health: low_water (%v) must be below high_water (%v)", c.Health.LowWater, c.Health.HighWater)
	}
	for _, f := range c.Discovery.Disabled {
		if !resource.Family(f).Valid() {
			return fmt.Errorf("discovery: unknown family %q in disabled", f)
		}
	}
	if c.History.Backend != BackendMemory && c.History.Path == "" {
		return fmt.Errorf("history: path required for %s backend", c.History.Backend)
	}
	if c.OTEL.Enabled && c.OTEL.Endpoint == "" && !c.OTEL.Prometheus {
		return fmt.Errorf("otel: endpoint or prometheus required when enabled")
	}
	return nil
}
