// Package config loads pulsegrid's configuration the way the teacher's
// akavelog service does: koanf pulls PULSEGRID_-prefixed environment
// variables into a nested struct, go-playground/validator checks it, and a
// bootstrap zerolog console logger reports load failures before the real
// logger exists.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

type Config struct {
	Primary        Primary              `koanf:"primary" validate:"required"`
	Server         ServerConfig         `koanf:"server" validate:"required"`
	IdentityDB     DatabaseConfig       `koanf:"identity_db" validate:"required"`
	LogsDB         DatabaseConfig       `koanf:"logs_db" validate:"required"`
	Observability  *ObservabilityConfig `koanf:"observability" validate:"required"`
	Cache          CacheConfig          `koanf:"cache" validate:"required"`
	RateLimit      RateLimitConfig      `koanf:"rate_limit" validate:"required"`
	CircuitBreaker BreakerConfig        `koanf:"circuit_breaker" validate:"required"`
	Queue          QueueConfig          `koanf:"queue" validate:"required"`
	Batcher        BatcherConfig        `koanf:"batcher" validate:"required"`
	Schedule       ScheduleConfig       `koanf:"schedule" validate:"required"`
	DeadLetter     DeadLetterConfig     `koanf:"dead_letter" validate:"required"`
}

type Primary struct {
	Env         string `koanf:"env" validate:"required"`
	ServiceName string `koanf:"service_name"`
}

type ServerConfig struct {
	Port               string   `koanf:"port" validate:"required"`
	ReadTimeout        int      `koanf:"read_timeout" validate:"required"`
	WriteTimeout       int      `koanf:"write_timeout" validate:"required"`
	IdleTimeout        int      `koanf:"idle_timeout" validate:"required"`
	RequestDeadlineSec int      `koanf:"request_deadline_sec" validate:"required"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

type DatabaseConfig struct {
	Host            string `koanf:"host" validate:"required"`
	Port            int    `koanf:"port" validate:"required"`
	User            string `koanf:"user" validate:"required"`
	Password        string `koanf:"password"`
	Name            string `koanf:"name" validate:"required"`
	SSLMode         string `koanf:"ssl_mode" validate:"required"`
	MaxOpenConns    int    `koanf:"max_open_conns" validate:"required"`
	MaxIdleConns    int    `koanf:"max_idle_conns" validate:"required"`
	ConnMaxLifetime int    `koanf:"conn_max_lifetime" validate:"required"`
	ConnMaxIdleTime int    `koanf:"conn_max_idle_time" validate:"required"`
}

// DSN builds a libpq connection string from the parts above.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type CacheConfig struct {
	Addr                 string `koanf:"addr" validate:"required"`
	Password             string `koanf:"password"`
	MaxIdle              int    `koanf:"max_idle" validate:"required"`
	MaxActive            int    `koanf:"max_active" validate:"required"`
	CredentialTTLSec     int    `koanf:"credential_ttl_sec" validate:"required"`
	EmergencyTTLSec      int    `koanf:"emergency_ttl_sec" validate:"required"`
	NegativeCacheTTLSec  int    `koanf:"negative_cache_ttl_sec" validate:"required"`
	MetricsCacheTTLSec   int    `koanf:"metrics_cache_ttl_sec" validate:"required"`
}

type RateLimitConfig struct {
	PerMinuteDefault int `koanf:"per_minute_default" validate:"required"`
	PerHourDefault   int `koanf:"per_hour_default" validate:"required"`
	DailyQuotaDefault int64 `koanf:"daily_quota_default" validate:"required"`
	MinuteRetryAfterSec int `koanf:"minute_retry_after_sec" validate:"required"`
	HourRetryAfterSec   int `koanf:"hour_retry_after_sec" validate:"required"`
}

type BreakerConfig struct {
	ConsecutiveFailureThreshold int     `koanf:"consecutive_failure_threshold" validate:"required"`
	ErrorRateThreshold          float64 `koanf:"error_rate_threshold" validate:"required"`
	ErrorRateWindow             int     `koanf:"error_rate_window" validate:"required"`
	CoolOffSec                  int     `koanf:"cool_off_sec" validate:"required"`
	HalfOpenMaxProbes           int     `koanf:"half_open_max_probes" validate:"required"`
}

type QueueConfig struct {
	DepthCeiling           int `koanf:"depth_ceiling" validate:"required"`
	BackpressureRetryAfterSec int `koanf:"backpressure_retry_after_sec" validate:"required"`
	DeadLetterDepthMultiplier int `koanf:"dead_letter_depth_multiplier" validate:"required"`
}

type BatcherConfig struct {
	MaxBatchSize   int `koanf:"max_batch_size" validate:"required"`
	MaxFlushWaitMs int `koanf:"max_flush_wait_ms" validate:"required"`
	WorkerCount    int `koanf:"worker_count" validate:"required"`
	PartitionTickerIntervalSec int `koanf:"partition_ticker_interval_sec" validate:"required"`
	DefaultRetentionDays       int `koanf:"default_retention_days" validate:"required"`
}

type ScheduleConfig struct {
	ErrorRateCadenceSec       int `koanf:"error_rate_cadence_sec" validate:"required"`
	LogVolumeCadenceSec       int `koanf:"log_volume_cadence_sec" validate:"required"`
	TopErrorsCadenceSec       int `koanf:"top_errors_cadence_sec" validate:"required"`
	UsageStatsCadenceSec      int `koanf:"usage_stats_cadence_sec" validate:"required"`
	AggregatedMetricsCadenceSec int `koanf:"aggregated_metrics_cadence_sec" validate:"required"`
	ClockSkewLagSec           int `koanf:"clock_skew_lag_sec" validate:"required"`
}

type DeadLetterConfig struct {
	Endpoint        string `koanf:"endpoint"`
	Region          string `koanf:"region"`
	Bucket          string `koanf:"bucket"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
}

// defaults mirrors spec.md §6's "all have documented defaults" promise.
// Applied before koanf.Load so env vars always win.
func defaults() map[string]any {
	return map[string]any{
		"server.read_timeout":          15,
		"server.write_timeout":         15,
		"server.idle_timeout":          60,
		"server.request_deadline_sec":  30,
		"identity_db.max_open_conns":   30,
		"identity_db.max_idle_conns":   10,
		"identity_db.conn_max_lifetime": 1800,
		"identity_db.conn_max_idle_time": 300,
		"logs_db.max_open_conns":        30,
		"logs_db.max_idle_conns":        10,
		"logs_db.conn_max_lifetime":     1800,
		"logs_db.conn_max_idle_time":    300,
		"cache.max_idle":                10,
		"cache.max_active":              50,
		"cache.credential_ttl_sec":      300,
		"cache.emergency_ttl_sec":       600,
		"cache.negative_cache_ttl_sec":  5,
		"cache.metrics_cache_ttl_sec":   600,
		"rate_limit.per_minute_default": 60,
		"rate_limit.per_hour_default":   1000,
		"rate_limit.daily_quota_default": 1000000,
		"rate_limit.minute_retry_after_sec": 60,
		"rate_limit.hour_retry_after_sec":   3600,
		"circuit_breaker.consecutive_failure_threshold": 5,
		"circuit_breaker.error_rate_threshold":          0.5,
		"circuit_breaker.error_rate_window":              20,
		"circuit_breaker.cool_off_sec":                   30,
		"circuit_breaker.half_open_max_probes":           1,
		"queue.depth_ceiling":                     100000,
		"queue.backpressure_retry_after_sec":       60,
		"queue.dead_letter_depth_multiplier":       2,
		"batcher.max_batch_size":                   1000,
		"batcher.max_flush_wait_ms":                200,
		"batcher.worker_count":                     4,
		"batcher.partition_ticker_interval_sec":     3600,
		"batcher.default_retention_days":            30,
		"schedule.error_rate_cadence_sec":           300,
		"schedule.log_volume_cadence_sec":           300,
		"schedule.top_errors_cadence_sec":           900,
		"schedule.usage_stats_cadence_sec":          3600,
		"schedule.aggregated_metrics_cadence_sec":   3600,
		"schedule.clock_skew_lag_sec":               30,
	}
}

// Load loads the configuration from environment variables using koanf,
// as internal/config/config.go does in the teacher for AKAVELOG_.
func Load(prefix string) (*Config, error) {
	bootstrap := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(confmapProvider(defaults()), nil); err != nil {
		bootstrap.Fatal().Err(err).Msg("could not load config defaults")
	}

	if err := k.Load(env.Provider(prefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, prefix)), "__", ".")
	}), nil); err != nil {
		bootstrap.Fatal().Err(err).Msg("could not load env variables")
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		bootstrap.Fatal().Err(err).Msg("could not unmarshal config")
	}

	if cfg.Observability == nil {
		cfg.Observability = DefaultObservabilityConfig()
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		bootstrap.Fatal().Err(err).Msg("could not validate config")
	}

	cfg.Observability.ServiceName = "pulsegrid"
	cfg.Observability.Environment = cfg.Primary.Env
	if err := cfg.Observability.Validate(); err != nil {
		bootstrap.Fatal().Err(err).Msg("invalid observability config")
	}

	return cfg, nil
}
