// Package am holds remit's configuration ("I am"): what the daemon settles,
// how often, and against which backends.
package am

import "time"

// Config represents the core remit configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" toml:"database"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
	Pulse     PulseConfig     `mapstructure:"pulse" toml:"pulse"`
	Retry     RetryConfig     `mapstructure:"retry" toml:"retry"`
	Secret    SecretConfig    `mapstructure:"secret" toml:"secret"`
	Ledger    LedgerConfig    `mapstructure:"ledger" toml:"ledger"`
	Events    EventsConfig    `mapstructure:"events" toml:"events"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" toml:"telemetry"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// LogConfig configures log output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json"` // JSON lines for supervisors; console otherwise
}

// PulseConfig configures the batch pass that settles due schedules
type PulseConfig struct {
	Schedule            string `mapstructure:"schedule" toml:"schedule"`                             // cron spec for the trigger (default: @every 1m)
	BatchSize           int    `mapstructure:"batch_size" toml:"batch_size"`                         // max schedules per pass (default: 50)
	Concurrency         int    `mapstructure:"concurrency" toml:"concurrency"`                       // 1 = sequential (default)
	ClaimLeaseSeconds   int    `mapstructure:"claim_lease_seconds" toml:"claim_lease_seconds"`       // age after which an unfinished claim is reaped
	MoverCallsPerMinute int    `mapstructure:"mover_calls_per_minute" toml:"mover_calls_per_minute"` // 0 = unlimited
}

// RetryConfig configures failure escalation
type RetryConfig struct {
	DelaysSeconds []int  `mapstructure:"delays_seconds" toml:"delays_seconds"` // last entry repeats
	MaxAttempts   int    `mapstructure:"max_attempts" toml:"max_attempts"`
	AuthFailure   string `mapstructure:"auth_failure" toml:"auth_failure"` // "pause" or "retry"
}

// SecretConfig configures the PIN cache and key derivation
type SecretConfig struct {
	Backend       string      `mapstructure:"backend" toml:"backend"` // "memory" or "redis"
	TTLSeconds    int         `mapstructure:"ttl_seconds" toml:"ttl_seconds"`
	KeyDerivation string      `mapstructure:"key_derivation" toml:"key_derivation"` // "concat" or "hkdf"
	Redis         RedisConfig `mapstructure:"redis" toml:"redis"`
}

// RedisConfig configures a Redis connection
type RedisConfig struct {
	Addr     string `mapstructure:"addr" toml:"addr"`
	Password string `mapstructure:"password" toml:"password"`
	DB       int    `mapstructure:"db" toml:"db"`
	Prefix   string `mapstructure:"prefix" toml:"prefix"`
}

// LedgerConfig configures one mover per payment channel
type LedgerConfig struct {
	OnChain MoverConfig `mapstructure:"onchain" toml:"onchain"`
	Bank    MoverConfig `mapstructure:"bank" toml:"bank"`
}

// MoverConfig configures a single ledger mover
type MoverConfig struct {
	Kind           string `mapstructure:"kind" toml:"kind"` // "sandbox", "http" or "" (disabled)
	Endpoint       string `mapstructure:"endpoint" toml:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	AllowPrivate   bool   `mapstructure:"allow_private" toml:"allow_private"` // permit rails on private networks
}

// EventsConfig configures outcome event delivery
type EventsConfig struct {
	Backend string      `mapstructure:"backend" toml:"backend"` // "memory" or "redis"
	Channel string      `mapstructure:"channel" toml:"channel"` // Redis pub/sub channel
	Redis   RedisConfig `mapstructure:"redis" toml:"redis"`
}

// TelemetryConfig configures OTLP metric export
type TelemetryConfig struct {
	Enabled         bool   `mapstructure:"enabled" toml:"enabled"`
	Endpoint        string `mapstructure:"endpoint" toml:"endpoint"` // OTLP/gRPC collector, e.g. localhost:4317
	Insecure        bool   `mapstructure:"insecure" toml:"insecure"` // plaintext gRPC, local collectors only
	IntervalSeconds int    `mapstructure:"interval_seconds" toml:"interval_seconds"`
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// RetryDelays converts the configured delay table to durations
func (c *Config) RetryDelays() []time.Duration {
	delays := make([]time.Duration, 0, len(c.Retry.DelaysSeconds))
	for _, s := range c.Retry.DelaysSeconds {
		delays = append(delays, time.Duration(s)*time.Second)
	}
	return delays
}

// SecretTTL returns the PIN cache window
func (c *Config) SecretTTL() time.Duration {
	return time.Duration(c.Secret.TTLSeconds) * time.Second
}

// ClaimLease returns how long a settlement claim may stay unfinished
func (c *Config) ClaimLease() time.Duration {
	return time.Duration(c.Pulse.ClaimLeaseSeconds) * time.Second
}
