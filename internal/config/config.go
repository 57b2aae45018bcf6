package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/clinic-api/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-api/pkg/worker"
)

// EnvPrefix is the prefix of every environment override, e.g. CLINIC_DATABASE_HOST
const EnvPrefix = "CLINIC"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Booking   BookingConfig   `mapstructure:"booking"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" split_words:"true"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port                   int    `mapstructure:"port"`
	HealthPort             int    `mapstructure:"health_port" split_words:"true"`
	TimeoutSeconds         int    `mapstructure:"timeout_seconds" split_words:"true"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" split_words:"true"`
	Mode                   string `mapstructure:"mode"`
	MaxBodyBytes           int64  `mapstructure:"max_body_bytes" split_words:"true"`
}

func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory"
	Driver                 string `mapstructure:"driver"`
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	User                   string `mapstructure:"user"`
	Password               string `mapstructure:"password"`
	Name                   string `mapstructure:"name"`
	SSLMode                string `mapstructure:"sslmode" envconfig:"SSLMODE"`
	MaxOpenConns           int    `mapstructure:"max_open_conns" split_words:"true"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns" split_words:"true"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes" split_words:"true"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	URL            string `mapstructure:"url"`
	MaxRetries     int    `mapstructure:"max_retries" split_words:"true"`
	RetryBackoffMS int    `mapstructure:"retry_backoff_ms" envconfig:"RETRY_BACKOFF_MS"`
	PoolSize       int    `mapstructure:"pool_size" split_words:"true"`
	MinIdleConns   int    `mapstructure:"min_idle_conns" split_words:"true"`
	ChannelPrefix  string `mapstructure:"channel_prefix" split_words:"true"`
	// BreakerFailures consecutive publish failures open the circuit breaker
	BreakerFailures       int `mapstructure:"breaker_failures" split_words:"true"`
	BreakerTimeoutSeconds int `mapstructure:"breaker_timeout_seconds" split_words:"true"`
}

func (c RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:             c.URL,
		MaxRetries:      c.MaxRetries,
		RetryBackoff:    time.Duration(c.RetryBackoffMS) * time.Millisecond,
		PoolSize:        c.PoolSize,
		MinIdleConns:    c.MinIdleConns,
		BreakerFailures: c.BreakerFailures,
		BreakerTimeout:  time.Duration(c.BreakerTimeoutSeconds) * time.Second,
	}
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	Issuer      string `mapstructure:"issuer"`
	ExpiryHours int    `mapstructure:"expiry_hours" split_words:"true"`
}

func (c JWTConfig) Expiry() time.Duration {
	return time.Duration(c.ExpiryHours) * time.Hour
}

type BookingConfig struct {
	ReviewCommentMaxLength int `mapstructure:"review_comment_max_length" split_words:"true"`
	SlotCacheTTLSeconds    int `mapstructure:"slot_cache_ttl_seconds" envconfig:"SLOT_CACHE_TTL_SECONDS"`
	MinLeadTimeMinutes     int `mapstructure:"min_lead_time_minutes" split_words:"true"`
	LockTimeoutSeconds     int `mapstructure:"lock_timeout_seconds" split_words:"true"`
}

func (c BookingConfig) SlotCacheTTL() time.Duration {
	return time.Duration(c.SlotCacheTTLSeconds) * time.Second
}

func (c BookingConfig) MinLeadTime() time.Duration {
	return time.Duration(c.MinLeadTimeMinutes) * time.Minute
}

func (c BookingConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" split_words:"true"`
	Burst             int     `mapstructure:"burst"`
}

type OutboxConfig struct {
	BatchSize      int `mapstructure:"batch_size" split_words:"true"`
	PollIntervalMS int `mapstructure:"poll_interval_ms" envconfig:"POLL_INTERVAL_MS"`
	RetryAttempts  int `mapstructure:"retry_attempts" split_words:"true"`
	RetryDelayMS   int `mapstructure:"retry_delay_ms" envconfig:"RETRY_DELAY_MS"`
	LeaseSeconds   int `mapstructure:"lease_seconds" split_words:"true"`
	MaxDeliveries  int `mapstructure:"max_deliveries" split_words:"true"`
	RetentionHours int `mapstructure:"retention_hours" split_words:"true"`
}

func (c OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  time.Duration(c.PollIntervalMS) * time.Millisecond,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    time.Duration(c.RetryDelayMS) * time.Millisecond,
		Lease:         time.Duration(c.LeaseSeconds) * time.Second,
		MaxDeliveries: c.MaxDeliveries,
		Retention:     time.Duration(c.RetentionHours) * time.Hour,
	}
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// Format is "console" or "json"
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("server.timeout_seconds", 15)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "clinic")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime_minutes", 30)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff_ms", 100)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.channel_prefix", "clinic.")
	v.SetDefault("redis.breaker_failures", 5)
	v.SetDefault("redis.breaker_timeout_seconds", 5)

	v.SetDefault("jwt.issuer", "clinic-api")
	v.SetDefault("jwt.expiry_hours", 24)

	v.SetDefault("booking.review_comment_max_length", 1000)
	v.SetDefault("booking.slot_cache_ttl_seconds", 30)
	v.SetDefault("booking.min_lead_time_minutes", 0)
	v.SetDefault("booking.lock_timeout_seconds", 5)

	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval_ms", 1000)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay_ms", 200)
	v.SetDefault("outbox.lease_seconds", 30)
	v.SetDefault("outbox.max_deliveries", 10)
	v.SetDefault("outbox.retention_hours", 72)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads config.yaml from the working directory, ./config or
// /app/config when present, then applies CLINIC_* environment overrides.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	var problems []string
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		problems = append(problems, fmt.Sprintf("database.driver must be postgres or memory, got %q", c.Database.Driver))
	}
	if c.Server.Port <= 0 {
		problems = append(problems, "server.port must be positive")
	}
	if c.Booking.ReviewCommentMaxLength <= 0 {
		problems = append(problems, "booking.review_comment_max_length must be positive")
	}
	if c.Booking.MinLeadTimeMinutes < 0 {
		problems = append(problems, "booking.min_lead_time_minutes cannot be negative")
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.PollIntervalMS <= 0 || c.Outbox.RetryAttempts <= 0 {
		problems = append(problems, "outbox batch_size, poll_interval_ms and retry_attempts must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
