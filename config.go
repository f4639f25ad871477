package x402

import (
	"fmt"
	"time"
)

// TimeoutConfig holds timeout configuration for facilitator operations.
// Each verify/settle attempt runs under its own timeout; expiry fails that
// attempt only, not the whole retry budget.
type TimeoutConfig struct {
	// VerifyTimeout bounds a single verify attempt.
	VerifyTimeout time.Duration

	// SettleTimeout bounds a single settle attempt. Settlement waits on an
	// on-chain transaction, so this is much larger than VerifyTimeout.
	SettleTimeout time.Duration

	// HealthTimeout bounds the best-effort health check.
	HealthTimeout time.Duration
}

// DefaultTimeouts provides sensible defaults for facilitator operations.
var DefaultTimeouts = TimeoutConfig{
	VerifyTimeout: 5 * time.Second,
	SettleTimeout: 60 * time.Second,
	HealthTimeout: 2 * time.Second,
}

// WithVerifyTimeout returns a copy with the verify timeout replaced.
func (tc TimeoutConfig) WithVerifyTimeout(d time.Duration) TimeoutConfig {
	tc.VerifyTimeout = d
	return tc
}

// WithSettleTimeout returns a copy with the settle timeout replaced.
func (tc TimeoutConfig) WithSettleTimeout(d time.Duration) TimeoutConfig {
	tc.SettleTimeout = d
	return tc
}

// Validate ensures timeout values are usable.
func (tc TimeoutConfig) Validate() error {
	if tc.VerifyTimeout <= 0 {
		return fmt.Errorf("verify timeout must be positive, got %v", tc.VerifyTimeout)
	}
	if tc.SettleTimeout <= 0 {
		return fmt.Errorf("settle timeout must be positive, got %v", tc.SettleTimeout)
	}
	if tc.HealthTimeout <= 0 {
		return fmt.Errorf("health timeout must be positive, got %v", tc.HealthTimeout)
	}
	if tc.SettleTimeout < tc.VerifyTimeout {
		return fmt.Errorf("settle timeout (%v) should be >= verify timeout (%v)",
			tc.SettleTimeout, tc.VerifyTimeout)
	}
	return nil
}
