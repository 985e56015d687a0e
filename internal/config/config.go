// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Host string `envconfig:"OBJFINDER_HOST" yaml:"host"`
	Port int    `envconfig:"OBJFINDER_PORT" yaml:"port"`

	Server ServerConfig `yaml:"server"`

	// Video-understanding service
	Video VideoConfig `yaml:"video"`

	// Search result cache
	Cache CacheConfig `yaml:"cache"`

	// Tracked object persistence
	Store StoreConfig `yaml:"store"`

	Upload UploadConfig `yaml:"upload"`

	Metrics MetricsConfig `yaml:"metrics"`

	Bus BusConfig `yaml:"bus"`

	Log LogConfig `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	CORSOrigins     string        `envconfig:"OBJFINDER_CORS_ORIGINS" yaml:"cors_origins"`
	RateLimit       int           `envconfig:"OBJFINDER_RATE_LIMIT" yaml:"rate_limit"` // requests per client per minute, 0 = disabled
	ReadTimeout     time.Duration `envconfig:"OBJFINDER_READ_TIMEOUT" yaml:"read_timeout"`
	WriteTimeout    time.Duration `envconfig:"OBJFINDER_WRITE_TIMEOUT" yaml:"write_timeout"` // 0 = derived from the video timeout
	ShutdownTimeout time.Duration `envconfig:"OBJFINDER_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`
}

// VideoConfig holds video service settings. An empty APIKey puts the client
// in mock mode for the lifetime of the process.
type VideoConfig struct {
	APIKey          string        `envconfig:"MEMORIES_AI_API_KEY" yaml:"api_key"`
	BaseURL         string        `envconfig:"MEMORIES_AI_BASE_URL" yaml:"base_url"`
	Timeout         time.Duration `envconfig:"OBJFINDER_VIDEO_TIMEOUT" yaml:"timeout"`
	SearchLimit     int           `envconfig:"OBJFINDER_SEARCH_LIMIT" yaml:"search_limit"`
	BreakerFailures uint32        `envconfig:"OBJFINDER_BREAKER_FAILURES" yaml:"breaker_failures"`
	BreakerCooldown time.Duration `envconfig:"OBJFINDER_BREAKER_COOLDOWN" yaml:"breaker_cooldown"`
}

// CacheConfig holds search cache settings.
type CacheConfig struct {
	Size int           `envconfig:"OBJFINDER_CACHE_SIZE" yaml:"size"`
	TTL  time.Duration `envconfig:"OBJFINDER_CACHE_TTL" yaml:"ttl"`
}

// StoreConfig selects the tracked object store.
type StoreConfig struct {
	Type string `envconfig:"OBJFINDER_STORE_TYPE" yaml:"type"`
	DSN  string `envconfig:"OBJFINDER_STORE_DSN" yaml:"dsn"`
}

// UploadConfig holds upload validation settings.
type UploadConfig struct {
	MaxBytes     int64    `envconfig:"OBJFINDER_UPLOAD_MAX_BYTES" yaml:"max_bytes"`
	AllowedTypes []string `envconfig:"OBJFINDER_UPLOAD_ALLOWED_TYPES" yaml:"allowed_types"`
}

// MetricsConfig holds call metrics settings.
type MetricsConfig struct {
	History  string `envconfig:"OBJFINDER_METRICS_HISTORY" yaml:"history"` // none or redis
	RedisURL string `envconfig:"OBJFINDER_REDIS_URL" yaml:"redis_url"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"OBJFINDER_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"OBJFINDER_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"OBJFINDER_KAFKA_GROUP" yaml:"kafka_group"`
	EventLog     string `envconfig:"OBJFINDER_EVENT_LOG" yaml:"event_log"` // JSON lines file, empty = off

	// EventLogRetention is how long journaled events are kept, 0 = forever.
	EventLogRetention time.Duration `envconfig:"OBJFINDER_EVENT_LOG_RETENTION" yaml:"event_log_retention"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"OBJFINDER_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"OBJFINDER_LOG_FORMAT" yaml:"format"`
	File   string `envconfig:"OBJFINDER_LOG_FILE" yaml:"file"`
}

// DefaultEnvFile is read when no env file is named explicitly.
const DefaultEnvFile = ".env"

// Load loads configuration from defaults, an optional YAML file, optional
// dotenv files and the environment, in that order of increasing priority.
// With no envFiles, DefaultEnvFile is read if it exists.
func Load(configPath string, envFiles ...string) (*Config, error) {
	cfg := &Config{}

	setDefaults(cfg)

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	cfg.deriveTimeouts()

	// The hosted table service hands out a plain DATABASE_URL.
	if cfg.Store.Type == "postgres" && cfg.Store.DSN == "" {
		cfg.Store.DSN = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// loadEnvFiles populates the process environment from dotenv files without
// overriding variables that are already set.
func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return nil
		}
		files = []string{DefaultEnvFile}
	}

	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8000

	cfg.Server = ServerConfig{
		CORSOrigins:     "http://localhost:3000,http://127.0.0.1:3000",
		RateLimit:       0,
		ReadTimeout:     30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}

	cfg.Video = VideoConfig{
		BaseURL:         "https://mavi-backend.memories.ai/api/serve",
		Timeout:         5 * time.Minute,
		SearchLimit:     3,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}

	cfg.Cache = CacheConfig{
		Size: 50,
		TTL:  10 * time.Minute,
	}

	cfg.Store = StoreConfig{
		Type: "memory",
	}

	cfg.Upload = UploadConfig{
		MaxBytes: 50 * 1024 * 1024,
		AllowedTypes: []string{
			"video/mp4", "video/avi", "video/mov", "video/quicktime",
			"video/wmv", "video/flv", "video/webm", "video/mkv",
		},
	}

	cfg.Metrics = MetricsConfig{
		History:  "none",
		RedisURL: "redis://localhost:6379",
	}

	cfg.Bus = BusConfig{
		Type:              "memory",
		EventLogRetention: 7 * 24 * time.Hour,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if c.Server.RateLimit < 0 {
		errs = append(errs, "rate_limit must not be negative")
	}

	if c.Video.BaseURL == "" {
		errs = append(errs, "video base_url is required")
	} else if u, err := url.Parse(c.Video.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("invalid video base_url: %s", c.Video.BaseURL))
	}

	if c.Video.Timeout <= 0 {
		errs = append(errs, "video timeout must be positive")
	}

	if c.Server.WriteTimeout < 0 {
		errs = append(errs, "write_timeout must not be negative")
	}

	if c.Video.SearchLimit < 1 {
		errs = append(errs, "search_limit must be positive")
	}

	if c.Cache.Size < 1 {
		errs = append(errs, "cache size must be positive")
	}

	if c.Cache.TTL <= 0 {
		errs = append(errs, "cache ttl must be positive")
	}

	validStoreTypes := map[string]bool{"memory": true, "sqlite": true, "postgres": true}
	if !validStoreTypes[c.Store.Type] {
		errs = append(errs, fmt.Sprintf("invalid store type: %s (must be memory, sqlite, or postgres)", c.Store.Type))
	} else if c.Store.Type != "memory" && c.Store.DSN == "" {
		errs = append(errs, fmt.Sprintf("store dsn is required for %s", c.Store.Type))
	}

	if c.Upload.MaxBytes < 1 {
		errs = append(errs, "upload max_bytes must be positive")
	}

	validHistory := map[string]bool{"none": true, "redis": true}
	if !validHistory[c.Metrics.History] {
		errs = append(errs, fmt.Sprintf("invalid metrics history: %s (must be none or redis)", c.Metrics.History))
	}

	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	} else if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "kafka_brokers is required for kafka bus")
	}

	if c.Bus.EventLogRetention < 0 {
		errs = append(errs, "event_log_retention must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// writeTimeoutMargin covers the request work around the video calls.
const writeTimeoutMargin = time.Minute

// WriteTimeoutFor returns the HTTP write timeout a search needs when each
// video call may take up to videoTimeout. A search makes two sequential
// calls, search then describe.
func WriteTimeoutFor(videoTimeout time.Duration) time.Duration {
	return 2*videoTimeout + writeTimeoutMargin
}

// deriveTimeouts fills timeouts that depend on other settings and were not
// set explicitly.
func (c *Config) deriveTimeouts() {
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = WriteTimeoutFor(c.Video.Timeout)
	}
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MockMode reports whether the video client will run without the live service.
func (c *Config) MockMode() bool {
	return c.Video.APIKey == ""
}

// CORSOriginList splits the configured origins.
func (c *Config) CORSOriginList() []string {
	var origins []string
	for _, o := range strings.Split(c.Server.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
