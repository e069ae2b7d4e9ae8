package am

import (
	"github.com/robfig/cron/v3"

	"github.com/teranos/remit/errors"
)

// cronParser accepts standard five-field specs and descriptors like "@every 1m"
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Pulse.Schedule != "" {
		if _, err := cronParser.Parse(c.Pulse.Schedule); err != nil {
			return errors.Wrapf(err, "pulse.schedule %q is not a valid cron spec", c.Pulse.Schedule)
		}
	}
	if c.Pulse.BatchSize <= 0 {
		return errors.Newf("pulse.batch_size must be > 0, got %d", c.Pulse.BatchSize)
	}
	if c.Pulse.Concurrency <= 0 {
		return errors.Newf("pulse.concurrency must be > 0, got %d", c.Pulse.Concurrency)
	}
	if c.Pulse.ClaimLeaseSeconds <= 0 {
		return errors.Newf("pulse.claim_lease_seconds must be > 0, got %d", c.Pulse.ClaimLeaseSeconds)
	}
	// 0 = unlimited, negative = invalid
	if c.Pulse.MoverCallsPerMinute < 0 {
		return errors.Newf("pulse.mover_calls_per_minute must be >= 0, got %d", c.Pulse.MoverCallsPerMinute)
	}

	if len(c.Retry.DelaysSeconds) == 0 {
		return errors.New("retry.delays_seconds cannot be empty")
	}
	for i, d := range c.Retry.DelaysSeconds {
		if d <= 0 {
			return errors.Newf("retry.delays_seconds[%d] must be > 0, got %d", i, d)
		}
	}
	if c.Retry.MaxAttempts <= 0 {
		return errors.Newf("retry.max_attempts must be > 0, got %d", c.Retry.MaxAttempts)
	}
	switch c.Retry.AuthFailure {
	case "pause", "retry":
	default:
		return errors.Newf("retry.auth_failure must be \"pause\" or \"retry\", got %q", c.Retry.AuthFailure)
	}

	switch c.Secret.Backend {
	case "memory":
	case "redis":
		if c.Secret.Redis.Addr == "" {
			return errors.New("secret.redis.addr cannot be empty when secret.backend = \"redis\"")
		}
	default:
		return errors.Newf("secret.backend must be \"memory\" or \"redis\", got %q", c.Secret.Backend)
	}
	if c.Secret.TTLSeconds <= 0 {
		return errors.Newf("secret.ttl_seconds must be > 0, got %d", c.Secret.TTLSeconds)
	}
	switch c.Secret.KeyDerivation {
	case "concat", "hkdf":
	default:
		return errors.Newf("secret.key_derivation must be \"concat\" or \"hkdf\", got %q", c.Secret.KeyDerivation)
	}

	if err := c.Ledger.OnChain.validate("ledger.onchain"); err != nil {
		return err
	}
	if err := c.Ledger.Bank.validate("ledger.bank"); err != nil {
		return err
	}
	if c.Ledger.OnChain.Kind == "" && c.Ledger.Bank.Kind == "" {
		return errors.New("at least one of ledger.onchain and ledger.bank must be enabled")
	}

	switch c.Events.Backend {
	case "memory":
	case "redis":
		if c.Events.Redis.Addr == "" {
			return errors.New("events.redis.addr cannot be empty when events.backend = \"redis\"")
		}
		if c.Events.Channel == "" {
			return errors.New("events.channel cannot be empty when events.backend = \"redis\"")
		}
	default:
		return errors.Newf("events.backend must be \"memory\" or \"redis\", got %q", c.Events.Backend)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry.endpoint cannot be empty when telemetry.enabled = true")
		}
		if c.Telemetry.IntervalSeconds <= 0 {
			return errors.Newf("telemetry.interval_seconds must be > 0, got %d", c.Telemetry.IntervalSeconds)
		}
	}

	return nil
}

func (m MoverConfig) validate(prefix string) error {
	switch m.Kind {
	case "", "sandbox":
	case "http":
		if m.Endpoint == "" {
			return errors.Newf("%s.endpoint cannot be empty when kind = \"http\"", prefix)
		}
	default:
		return errors.Newf("%s.kind must be \"sandbox\", \"http\" or empty, got %q", prefix, m.Kind)
	}
	if m.Kind != "" && m.TimeoutSeconds <= 0 {
		return errors.Newf("%s.timeout_seconds must be > 0, got %d", prefix, m.TimeoutSeconds)
	}
	return nil
}
