// Package config holds the typed configuration surface for every component
// of the core. Each sub-config follows the same DefaultConfig/LoadFromEnv/
// Validate shape used throughout the codebase: sane defaults, environment
// variable overrides for the operator, and struct-tag validation at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// BreakerConfig configures the per-account circuit breaker.
type BreakerConfig struct {
	FailureThreshold  int           `validate:"min=1"`
	RecoveryTimeout   time.Duration `validate:"min=0"`
	SuccessThreshold  int           `validate:"min=1"`
	TimeWindow        time.Duration `validate:"min=0"`
	MaxBackoff        time.Duration `validate:"min=0"`
	BackoffMultiplier float64       `validate:"min=1"`
}

// DefaultBreakerConfig returns the documented defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  3,
		RecoveryTimeout:   30 * time.Second,
		SuccessThreshold:  2,
		TimeWindow:        10 * time.Minute,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2,
	}
}

// LoadFromEnv overrides defaults with BREAKER_* environment variables when
// present.
func (c *BreakerConfig) LoadFromEnv() {
	if v := os.Getenv("BREAKER_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.FailureThreshold = n
		}
	}
	if v := os.Getenv("BREAKER_RECOVERY_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RecoveryTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("BREAKER_SUCCESS_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SuccessThreshold = n
		}
	}
	if v := os.Getenv("BREAKER_TIME_WINDOW_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TimeWindow = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("BREAKER_MAX_BACKOFF_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxBackoff = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("BREAKER_BACKOFF_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.BackoffMultiplier = f
		}
	}
}

// Validate enforces the struct tags.
func (c BreakerConfig) Validate() error {
	return validate.Struct(c)
}

// PoolConfig configures one account's connection pool.
type PoolConfig struct {
	MinPoolSize         int           `validate:"min=0"`
	MaxPoolSize         int           `validate:"min=1"`
	ConnectionTimeout   time.Duration `validate:"min=0"`
	HealthCheckInterval time.Duration `validate:"min=0"`
	HealthCheckTimeout  time.Duration `validate:"min=0"`
	MaxIdleTime         time.Duration `validate:"min=0"`
}

// DefaultPoolConfig returns the documented defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinPoolSize:         2,
		MaxPoolSize:         15,
		ConnectionTimeout:   10 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  5 * time.Second,
		MaxIdleTime:         10 * time.Minute,
	}
}

func (c *PoolConfig) LoadFromEnv() {
	if v := os.Getenv("POOL_MIN_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MinPoolSize = n
		}
	}
	if v := os.Getenv("POOL_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxPoolSize = n
		}
	}
	if v := os.Getenv("POOL_CONNECTION_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ConnectionTimeout = time.Duration(n) * time.Millisecond
		}
	}
}

func (c PoolConfig) Validate() error {
	if c.MaxPoolSize < c.MinPoolSize {
		return fmt.Errorf("pool: maxPoolSize (%d) must be >= minPoolSize (%d)", c.MaxPoolSize, c.MinPoolSize)
	}
	return validate.Struct(c)
}

// HealthConfig configures the periodic health monitor.
type HealthConfig struct {
	CheckInterval         time.Duration `validate:"min=0"`
	DegradedHealthScore   float64       `validate:"min=0,max=100"`
	CriticalHealthScore   float64       `validate:"min=0,max=100"`
	MaxFailureRate        float64       `validate:"min=0,max=1"`
	MinAvailableAccounts  int           `validate:"min=0"`
}

// DefaultHealthConfig returns the documented defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:        30 * time.Second,
		DegradedHealthScore:  70,
		CriticalHealthScore:  30,
		MaxFailureRate:       0.20,
		MinAvailableAccounts: 1,
	}
}

func (c *HealthConfig) LoadFromEnv() {
	if v := os.Getenv("HEALTH_CHECK_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CheckInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("HEALTH_DEGRADED_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.DegradedHealthScore = f
		}
	}
	if v := os.Getenv("HEALTH_CRITICAL_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.CriticalHealthScore = f
		}
	}
}

func (c HealthConfig) Validate() error { return validate.Struct(c) }

// QueueConfig configures the NDJSON event queue.
type QueueConfig struct {
	Path                string
	MaxSize             int64         `validate:"min=1"`
	MaxAge              time.Duration `validate:"min=0"`
	MaxEvents           int64         `validate:"min=1"`
	EnableDeduplication bool
	SyncWrites          bool
}

// DefaultQueueConfig returns the documented defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Path:                "./data/events.ndjson",
		MaxSize:             64 << 20, // 64MiB
		MaxAge:              1 * time.Hour,
		MaxEvents:           1_000_000,
		EnableDeduplication: true,
		SyncWrites:          false,
	}
}

func (c *QueueConfig) LoadFromEnv() {
	if v := os.Getenv("QUEUE_PATH"); v != "" {
		c.Path = v
	}
	if v := os.Getenv("QUEUE_MAX_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxSize = n
		}
	}
	if v := os.Getenv("QUEUE_SYNC_WRITES"); v != "" {
		c.SyncWrites = v == "true" || v == "1"
	}
}

func (c QueueConfig) Validate() error { return validate.Struct(c) }

// SchedulerConfig configures the ticket scheduler.
type SchedulerConfig struct {
	MaxConcurrent    int           `validate:"min=1"`
	TicketRetention  time.Duration `validate:"min=0"`
	SweepInterval    time.Duration `validate:"min=0"`
}

// DefaultSchedulerConfig returns the documented defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrent:   5,
		TicketRetention: 1 * time.Hour,
		SweepInterval:   60 * time.Second,
	}
}

func (c *SchedulerConfig) LoadFromEnv() {
	if v := os.Getenv("SCHEDULER_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConcurrent = n
		}
	}
}

func (c SchedulerConfig) Validate() error { return validate.Struct(c) }

// VaultConfig configures the encrypted credential vault.
type VaultConfig struct {
	Path           string
	KDFIterations  int `validate:"min=100000"`
	WatchForChange bool
}

// DefaultVaultConfig returns the documented defaults.
func DefaultVaultConfig() VaultConfig {
	return VaultConfig{
		Path:           "./data/accounts.vault",
		KDFIterations:  100_000,
		WatchForChange: true,
	}
}

func (c *VaultConfig) LoadFromEnv() {
	if v := os.Getenv("VAULT_PATH"); v != "" {
		c.Path = v
	}
	if v := os.Getenv("VAULT_KDF_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.KDFIterations = n
		}
	}
}

func (c VaultConfig) Validate() error { return validate.Struct(c) }

// Config aggregates every component's configuration. Assembled once at
// startup by the outer runtime (CLI wrapper, out of scope here) and passed
// down to constructors.
type Config struct {
	Breaker   BreakerConfig
	Pool      PoolConfig
	Health    HealthConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
	Vault     VaultConfig
}

// DefaultConfig returns every sub-config at its documented default.
func DefaultConfig() Config {
	return Config{
		Breaker:   DefaultBreakerConfig(),
		Pool:      DefaultPoolConfig(),
		Health:    DefaultHealthConfig(),
		Queue:     DefaultQueueConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Vault:     DefaultVaultConfig(),
	}
}

// LoadFromEnv overrides every sub-config from its environment variables.
func (c *Config) LoadFromEnv() {
	c.Breaker.LoadFromEnv()
	c.Pool.LoadFromEnv()
	c.Health.LoadFromEnv()
	c.Queue.LoadFromEnv()
	c.Scheduler.LoadFromEnv()
	c.Vault.LoadFromEnv()
}

// Validate validates every sub-config.
func (c Config) Validate() error {
	for _, v := range []interface{ Validate() error }{
		c.Breaker, c.Pool, c.Health, c.Queue, c.Scheduler, c.Vault,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
