package am

import (
	"github.com/spf13/viper"
)

// DefaultDatabasePath is used when database.path is unset
const DefaultDatabasePath = "remit.db"

// DefaultDirPermissions for ~/.remit
const DefaultDirPermissions = 0750

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("log.json", false)

	// Pulse (batch pass) defaults
	v.SetDefault("pulse.schedule", "@every 1m")
	v.SetDefault("pulse.batch_size", 50) // bounds per-pass work; backlog drains over passes
	v.SetDefault("pulse.concurrency", 1) // sequential
	v.SetDefault("pulse.claim_lease_seconds", 300)
	v.SetDefault("pulse.mover_calls_per_minute", 60)

	// Retry escalation: 5m, 15m, 60m, then paused after the third failure
	v.SetDefault("retry.delays_seconds", []int{300, 900, 3600})
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.auth_failure", "pause")

	// Secret cache defaults
	v.SetDefault("secret.backend", "memory")
	v.SetDefault("secret.ttl_seconds", 900) // 15 minute PIN window
	v.SetDefault("secret.key_derivation", "concat")
	v.SetDefault("secret.redis.addr", "localhost:6379")
	v.SetDefault("secret.redis.prefix", "remit:pin:")

	// Ledger defaults: both channels on the sandbox until a rail is configured
	v.SetDefault("ledger.onchain.kind", "sandbox")
	v.SetDefault("ledger.onchain.timeout_seconds", 30)
	v.SetDefault("ledger.bank.kind", "sandbox")
	v.SetDefault("ledger.bank.timeout_seconds", 30)

	// Events defaults
	v.SetDefault("events.backend", "memory")
	v.SetDefault("events.channel", "remit.events")
	v.SetDefault("events.redis.addr", "localhost:6379")

	// Telemetry is off until a collector is configured
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.interval_seconds", 15)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "REMIT_DATABASE_PATH")
	v.BindEnv("secret.redis.password", "REMIT_SECRET_REDIS_PASSWORD")
	v.BindEnv("events.redis.password", "REMIT_EVENTS_REDIS_PASSWORD")
	v.BindEnv("ledger.onchain.endpoint", "REMIT_LEDGER_ONCHAIN_ENDPOINT")
	v.BindEnv("ledger.bank.endpoint", "REMIT_LEDGER_BANK_ENDPOINT")
	v.BindEnv("telemetry.endpoint", "REMIT_TELEMETRY_ENDPOINT")
}
