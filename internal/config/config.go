package config

import (
	"fmt"
	"time"
)

// Config is the full AUTHZ-CORE runtime configuration.
type Config struct {
	Environment string `mapstructure:"environment" yaml:"environment"`
	Port        int    `mapstructure:"port" yaml:"port"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`

	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Redis        RedisConfig        `mapstructure:"redis" yaml:"redis"`
	Cache        CacheConfig        `mapstructure:"cache" yaml:"cache"`
	Warmup       WarmupConfig       `mapstructure:"warmup" yaml:"warmup"`
	Matrix       MatrixConfig       `mapstructure:"matrix" yaml:"matrix"`
	Check        CheckConfig        `mapstructure:"check" yaml:"check"`
	Breakers     BreakersConfig     `mapstructure:"breakers" yaml:"breakers"`
	Invalidation InvalidationConfig `mapstructure:"invalidation" yaml:"invalidation"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler" yaml:"scheduler"`
	Auth         AuthConfig         `mapstructure:"auth" yaml:"auth"`
	Tracing      TracingConfig      `mapstructure:"tracing" yaml:"tracing"`
	Search       SearchConfig       `mapstructure:"search" yaml:"search"`
	CORS         CORSConfig         `mapstructure:"cors" yaml:"cors"`
}

// DatabaseConfig describes the relational store holding grants, roles,
// policies, history, and the permission matrix.
type DatabaseConfig struct {
	// URL takes precedence over the discrete fields when set (DATABASE_URL).
	URL      string `mapstructure:"url" yaml:"url"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`

	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// DSN composes the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisConfig describes the key-value store backing the permission cache and
// warm-up counters.
type RedisConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Password string `mapstructure:"password" yaml:"password"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// CacheConfig carries the TTL class table and cache sizing.
type CacheConfig struct {
	TTL         int `mapstructure:"ttl" yaml:"ttl"`                   // seconds, DEFAULT class
	ReadTTL     int `mapstructure:"read_ttl" yaml:"read_ttl"`         // seconds, READ class
	CriticalTTL int `mapstructure:"critical_ttl" yaml:"critical_ttl"` // seconds, CRITICAL class
	MaxItems    int `mapstructure:"max_items" yaml:"max_items"`
}

// WarmupConfig controls activity tracking and cache pre-population.
type WarmupConfig struct {
	Threshold int `mapstructure:"threshold" yaml:"threshold"`
	Window    int `mapstructure:"window" yaml:"window"` // seconds
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
}

// MatrixConfig controls the pre-computed permission matrix.
type MatrixConfig struct {
	ExpiryHours           int `mapstructure:"expiry_hours" yaml:"expiry_hours"`
	BatchSize             int `mapstructure:"batch_size" yaml:"batch_size"`
	HighPriorityThreshold int `mapstructure:"high_priority_threshold" yaml:"high_priority_threshold"`
}

// CheckConfig bounds the check engine.
type CheckConfig struct {
	TimeoutMs     int `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	BatchMaxSize  int `mapstructure:"batch_max_size" yaml:"batch_max_size"`
	BatchTimeoutS int `mapstructure:"batch_timeout_s" yaml:"batch_timeout_s"`
}

// Timeout returns the single-check deadline.
func (c CheckConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// BatchTimeout returns the batch/transactional deadline.
func (c CheckConfig) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutS) * time.Second
}

// BreakerConfig configures one circuit breaker.
type BreakerConfig struct {
	FailureThreshold    int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	ResetTimeout        time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
	HalfOpenMaxAttempts int           `mapstructure:"half_open_max_attempts" yaml:"half_open_max_attempts"`
	MonitoringPeriod    time.Duration `mapstructure:"monitoring_period" yaml:"monitoring_period"`
}

// BreakersConfig holds the per-dependency breakers.
type BreakersConfig struct {
	Database BreakerConfig `mapstructure:"database" yaml:"database"`
	Cache    BreakerConfig `mapstructure:"cache" yaml:"cache"`
	Matrix   BreakerConfig `mapstructure:"matrix" yaml:"matrix"`
}

// InvalidationConfig bounds the fan-out worker pool.
type InvalidationConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// SchedulerConfig toggles the maintenance cron jobs.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// AuthConfig describes how the upstream gateway's identity is consumed.
// An empty JWTSecret means the token's claims are trusted as delivered
// (the gateway has already verified them).
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

// TracingConfig enables the OTLP trace exporter.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// SearchConfig toggles the in-memory catalog index.
type SearchConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// CORSConfig for browser-facing admin tooling.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers" yaml:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers" yaml:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age" yaml:"max_age"`
}
