package domain

import "time"

// BreakerConfig holds the circuit breaker tunables.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that trips CLOSED to OPEN.
	FailureThreshold int
	// Cooldown is how long an OPEN circuit blocks before a half-open trial.
	Cooldown time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

func (c BreakerConfig) WithDefaults() BreakerConfig {
	defaults := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaults.Cooldown
	}
	return c
}

// EffectiveCircuitState derives the breaker state visible to callers at read
// time. OPEN decays to HALF_OPEN once the cooldown has elapsed; the
// transition is never scheduled, so it survives restarts and needs no
// per-provider timers.
func EffectiveCircuitState(state CircuitState, lastFailureAt *time.Time, now time.Time, cfg BreakerConfig) CircuitState {
	cfg = cfg.WithDefaults()

	if state != CircuitOpen {
		return state
	}
	if lastFailureAt == nil {
		return CircuitHalfOpen
	}
	if now.Sub(*lastFailureAt) >= cfg.Cooldown {
		return CircuitHalfOpen
	}
	return CircuitOpen
}
