package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Worker    WorkerConfig    `yaml:"worker"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Media     MediaConfig     `yaml:"media"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	// MetricsAddr is the listen address for the worker's /metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the pool connection lifetime.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds Redis settings. Redis is optional: without it the
// dispatcher lock falls back to Postgres advisory locks and the
// cross-process rate guard is disabled.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// AuthConfig holds Trigger API authentication settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// WorkerConfig holds settings shared by both queue loops plus per-queue overrides.
type WorkerConfig struct {
	LockScope  string      `yaml:"lock_scope"`
	LockTTLSec int         `yaml:"lock_ttl_seconds"`
	Shots      QueueConfig `yaml:"shots"`
	Downsells  QueueConfig `yaml:"downsells"`
}

// LockTTL returns the Redis lock TTL; it must outlive one full cycle.
func (c WorkerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSec) * time.Second
}

// QueueConfig tunes a single queue loop.
type QueueConfig struct {
	Enabled             bool    `yaml:"enabled"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
	BatchSize           int     `yaml:"batch_size"`
	Concurrency         int     `yaml:"concurrency"`
	RatePerSecond       float64 `yaml:"rate_per_second"`
	TenantRatePerSecond int     `yaml:"tenant_rate_per_second"`
	MaxAttempts         int     `yaml:"max_attempts"`
	BackoffBaseSeconds  int     `yaml:"backoff_base_seconds"`
	BackoffMultiplier   float64 `yaml:"backoff_multiplier"`
	BackoffMaxSeconds   int     `yaml:"backoff_max_seconds"`
	StuckAfterMinutes   int     `yaml:"stuck_after_minutes"`
}

// PollInterval returns the delay between cycles.
func (c QueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// BackoffBase returns the first retry delay.
func (c QueueConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// BackoffMax returns the retry delay ceiling.
func (c QueueConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSeconds) * time.Second
}

// StuckAfter returns how long a job may stay processing before recovery.
func (c QueueConfig) StuckAfter() time.Duration {
	return time.Duration(c.StuckAfterMinutes) * time.Minute
}

// TelegramConfig holds outbound chat API settings. Bot tokens are looked up
// per tenant from the tenants table; only the endpoint and pacing live here.
type TelegramConfig struct {
	APIURL         string  `yaml:"api_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	BotRatePerSec  float64 `yaml:"bot_rate_per_second"`
	BotBurst       int     `yaml:"bot_burst"`
}

// Timeout returns the per-request HTTP timeout.
func (c TelegramConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MediaConfig holds settings for s3:// media references.
type MediaConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Region            string `yaml:"region"`
	Endpoint          string `yaml:"endpoint"`
	AccessKey         string `yaml:"access_key"`
	SecretKey         string `yaml:"secret_key"`
	PresignTTLMinutes int    `yaml:"presign_ttl_minutes"`
}

// PresignTTL returns the lifetime of presigned media URLs.
func (c MediaConfig) PresignTTL() time.Duration {
	return time.Duration(c.PresignTTLMinutes) * time.Minute
}

// SchedulerConfig holds the cron expression driving the scheduled-shot promoter.
type SchedulerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Spec    string `yaml:"spec"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Console   bool   `yaml:"console"`
	RedactPII bool   `yaml:"redact_pii"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Config{Logging: LoggingConfig{RedactPII: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "broadcast-engine"
	}
	if cfg.Worker.LockScope == "" {
		cfg.Worker.LockScope = "default"
	}
	if cfg.Worker.LockTTLSec == 0 {
		cfg.Worker.LockTTLSec = 300
	}
	applyQueueDefaults(&cfg.Worker.Shots, 5)
	applyQueueDefaults(&cfg.Worker.Downsells, 10)
	if cfg.Telegram.APIURL == "" {
		cfg.Telegram.APIURL = "https://api.telegram.org"
	}
	if cfg.Telegram.TimeoutSeconds == 0 {
		cfg.Telegram.TimeoutSeconds = 15
	}
	if cfg.Telegram.BotRatePerSec == 0 {
		cfg.Telegram.BotRatePerSec = 25
	}
	if cfg.Telegram.BotBurst == 0 {
		cfg.Telegram.BotBurst = 5
	}
	if cfg.Media.Region == "" {
		cfg.Media.Region = "us-east-1"
	}
	if cfg.Media.PresignTTLMinutes == 0 {
		cfg.Media.PresignTTLMinutes = 60
	}
	if cfg.Scheduler.Spec == "" {
		cfg.Scheduler.Spec = "@every 1m"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func applyQueueDefaults(q *QueueConfig, pollSeconds int) {
	if q.PollIntervalSeconds == 0 {
		q.PollIntervalSeconds = pollSeconds
	}
	if q.BatchSize == 0 {
		q.BatchSize = 100
	}
	if q.Concurrency == 0 {
		q.Concurrency = 10
	}
	if q.RatePerSecond == 0 {
		q.RatePerSecond = 25
	}
	if q.MaxAttempts == 0 {
		q.MaxAttempts = 5
	}
	if q.BackoffBaseSeconds == 0 {
		q.BackoffBaseSeconds = 30
	}
	if q.BackoffMultiplier == 0 {
		q.BackoffMultiplier = 2
	}
	if q.BackoffMaxSeconds == 0 {
		q.BackoffMaxSeconds = 3600
	}
	if q.StuckAfterMinutes == 0 {
		q.StuckAfterMinutes = 30
	}
}

// LoadFromEnv loads config from file and overrides with environment variables
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("TELEGRAM_API_URL"); v != "" {
		cfg.Telegram.APIURL = v
	}
	if v := os.Getenv("MEDIA_S3_ENDPOINT"); v != "" {
		cfg.Media.Endpoint = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Media.Region = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Media.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Media.SecretKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WORKER_LOCK_SCOPE"); v != "" {
		cfg.Worker.LockScope = v
	}

	return cfg, nil
}
