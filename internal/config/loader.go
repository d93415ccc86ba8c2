package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load loads configuration from various sources with priority order:
// 1. Spec-named environment variables (REDIS_HOST, CACHE_TTL, ...)
// 2. AUTHZ_-prefixed environment variables
// 3. Configuration file (config.yaml)
// 4. Default values
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/authz/")
	v.AddConfigPath("./configs/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AUTHZ")

	setDefaults(v)

	// Read configuration file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	overrideWithEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets the documented default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "authz")
	v.SetDefault("database.dbname", "authz")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Cache TTL classes (seconds)
	v.SetDefault("cache.ttl", 300)
	v.SetDefault("cache.read_ttl", 600)
	v.SetDefault("cache.critical_ttl", 60)
	v.SetDefault("cache.max_items", 1000)

	// Warm-up defaults
	v.SetDefault("warmup.threshold", 10)
	v.SetDefault("warmup.window", 3600)
	v.SetDefault("warmup.batch_size", 50)

	// Matrix defaults
	v.SetDefault("matrix.expiry_hours", 24)
	v.SetDefault("matrix.batch_size", 100)
	v.SetDefault("matrix.high_priority_threshold", 100)

	// Check engine defaults
	v.SetDefault("check.timeout_ms", 100)
	v.SetDefault("check.batch_max_size", 100)
	v.SetDefault("check.batch_timeout_s", 30)

	// Breaker defaults, per dependency
	for _, dep := range []string{"database", "cache", "matrix"} {
		v.SetDefault("breakers."+dep+".failure_threshold", 5)
		v.SetDefault("breakers."+dep+".reset_timeout", 30*time.Second)
		v.SetDefault("breakers."+dep+".half_open_max_attempts", 3)
		v.SetDefault("breakers."+dep+".monitoring_period", 60*time.Second)
	}

	v.SetDefault("invalidation.workers", 8)
	v.SetDefault("scheduler.enabled", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("search.enabled", true)

	// CORS defaults
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.max_age", 43200)
}

// overrideWithEnvVars applies the well-known unprefixed environment
// variables that operators expect to work regardless of the AUTHZ_ scheme.
func overrideWithEnvVars(v *viper.Viper) {
	setString := func(key, env string) {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}
	setInt := func(key, env string) {
		if val := os.Getenv(env); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				v.Set(key, n)
			}
		}
	}

	setString("database.url", "DATABASE_URL")
	setString("redis.host", "REDIS_HOST")
	setInt("redis.port", "REDIS_PORT")
	setInt("redis.db", "REDIS_DB")
	setString("redis.password", "REDIS_PASSWORD")

	setInt("cache.ttl", "CACHE_TTL")
	setInt("cache.max_items", "CACHE_MAX_ITEMS")

	setInt("warmup.threshold", "WARMUP_THRESHOLD")
	setInt("warmup.window", "WARMUP_WINDOW")
	setInt("warmup.batch_size", "WARMUP_BATCH_SIZE")

	setInt("matrix.expiry_hours", "MATRIX_EXPIRY_HOURS")
	setInt("matrix.batch_size", "MATRIX_BATCH_SIZE")
	setInt("matrix.high_priority_threshold", "HIGH_PRIORITY_THRESHOLD")

	setInt("check.timeout_ms", "CHECK_TIMEOUT_MS")
	setInt("check.batch_max_size", "CHECK_BATCH_MAX_SIZE")

	setString("auth.jwt_secret", "JWT_SECRET")
	setInt("port", "PORT")
}

// validateConfig rejects configurations the service cannot run with.
func validateConfig(c *Config) error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.Cache.TTL <= 0 || c.Cache.ReadTTL <= 0 || c.Cache.CriticalTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Check.TimeoutMs <= 0 {
		return fmt.Errorf("check.timeout_ms must be positive")
	}
	if c.Check.BatchMaxSize <= 0 || c.Check.BatchMaxSize > 1000 {
		return fmt.Errorf("check.batch_max_size out of range: %d", c.Check.BatchMaxSize)
	}
	if c.Warmup.Threshold <= 0 || c.Warmup.BatchSize <= 0 {
		return fmt.Errorf("warmup threshold and batch_size must be positive")
	}
	if c.Matrix.ExpiryHours <= 0 || c.Matrix.BatchSize <= 0 {
		return fmt.Errorf("matrix expiry_hours and batch_size must be positive")
	}
	if c.Invalidation.Workers <= 0 {
		return fmt.Errorf("invalidation.workers must be positive")
	}
	return nil
}
