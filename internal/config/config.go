package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/usecase"
)

const envPrefix = "CHAINAUDIT"

// Sink kinds.
const (
	SinkMemory   = "memory"
	SinkFile     = "file"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkRedis    = "redis"
	SinkLog      = "log"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Sink   SinkConfig   `mapstructure:"sink"`
	Reaper ReaperConfig `mapstructure:"reaper"`
	Logger LoggerConfig `mapstructure:"logger"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// APIKey holds one or more comma separated keys or "sha256:<hex>" hashes.
	// Empty leaves the API open.
	APIKey            string        `mapstructure:"api_key"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxEvents     int  `mapstructure:"max_events"`
	RetentionDays int  `mapstructure:"retention_days"`
	// RetentionInterval runs the sweep in the background. Zero sweeps
	// inline after every logged event.
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
	RetentionPolicy   string        `mapstructure:"retention_policy"`
	ExportDir         string        `mapstructure:"export_dir"`
}

type SinkConfig struct {
	Kind          string        `mapstructure:"kind"`
	Dir           string        `mapstructure:"dir"`
	DBPath        string        `mapstructure:"db_path"`
	DatabaseURL   string        `mapstructure:"database_url"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`
	WebhookURL    string        `mapstructure:"webhook_url"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	WebhookRate   float64       `mapstructure:"webhook_rate"`
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type ReaperConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// Load merges defaults, the config file and CHAINAUDIT_* environment
// variables, in increasing precedence. An empty path searches for
// chainaudit.yaml in the working directory and ./configs; a missing file is
// not an error then.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("chainaudit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
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

func setDefaults(v *viper.Viper) {
	def := usecase.DefaultStoreConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.enabled", def.Enabled)
	v.SetDefault("store.max_events", def.MaxEvents)
	v.SetDefault("store.retention_days", def.RetentionDays)
	v.SetDefault("store.retention_interval", time.Duration(0))
	v.SetDefault("store.retention_policy", string(def.RetentionPolicy))
	v.SetDefault("store.export_dir", def.ExportDir)

	v.SetDefault("sink.kind", SinkMemory)
	v.SetDefault("sink.dir", "./audit-logs")
	v.SetDefault("sink.db_path", "./chainaudit.sqlite")
	v.SetDefault("sink.database_url", "")
	v.SetDefault("sink.redis_addr", "localhost:6379")
	v.SetDefault("sink.redis_password", "")
	v.SetDefault("sink.redis_db", 0)
	v.SetDefault("sink.redis_ttl", time.Duration(0))
	v.SetDefault("sink.webhook_url", "")
	v.SetDefault("sink.webhook_secret", "")
	v.SetDefault("sink.webhook_rate", 0.0)
	v.SetDefault("sink.buffer_size", 10000)
	v.SetDefault("sink.batch_size", 100)
	v.SetDefault("sink.flush_interval", 500*time.Millisecond)

	v.SetDefault("reaper.interval", time.Minute)
	v.SetDefault("reaper.max_lifetime", time.Hour)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

func (c *Config) Validate() error {
	switch c.Sink.Kind {
	case SinkMemory, SinkFile, SinkSQLite, SinkPostgres, SinkRedis, SinkLog:
	default:
		return fmt.Errorf("unknown sink kind %q", c.Sink.Kind)
	}
	if c.Sink.Kind == SinkPostgres && c.Sink.DatabaseURL == "" {
		return errors.New("sink.database_url is required for the postgres sink")
	}
	switch usecase.RetentionPolicy(c.Store.RetentionPolicy) {
	case usecase.RetentionAge, usecase.RetentionCap:
	default:
		return fmt.Errorf("unknown retention policy %q", c.Store.RetentionPolicy)
	}
	if c.Store.MaxEvents < 0 || c.Store.RetentionDays < 0 {
		return errors.New("store.max_events and store.retention_days must not be negative")
	}
	if c.Sink.BufferSize <= 0 || c.Sink.BatchSize <= 0 {
		return errors.New("sink.buffer_size and sink.batch_size must be positive")
	}
	if c.Store.RetentionInterval < 0 || c.Reaper.Interval < 0 || c.Reaper.MaxLifetime < 0 {
		return errors.New("intervals must not be negative")
	}
	return nil
}

// APIKeys splits server.api_key into individual entries.
func (c *Config) APIKeys() []string {
	var keys []string
	for key := range strings.SplitSeq(c.Server.APIKey, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// StoreConfig converts the store section for usecase.NewEventStore.
func (c *Config) StoreConfig() usecase.StoreConfig {
	return usecase.StoreConfig{
		Enabled:         c.Store.Enabled,
		MaxEvents:       c.Store.MaxEvents,
		RetentionDays:   c.Store.RetentionDays,
		RetentionPolicy: usecase.RetentionPolicy(c.Store.RetentionPolicy),
		InlineRetention: c.Store.RetentionInterval == 0,
		ExportDir:       c.Store.ExportDir,
	}
}
