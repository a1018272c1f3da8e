package resolver

import (
	"math"
	"math/rand"
	"time"

	"github.com/bobmcallan/folio/internal/common"
)

// BackoffPolicy bounds the candidate chain and paces it after rate-limit signals.
// Delay(n) grows from BaseDelay by Multiplier per previous rate limit, is capped at
// MaxDelay and then stretched by up to Jitter (a fraction) so it never drops below
// the configured minimum.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64

	rand func() float64
}

// NewBackoffPolicy builds a policy from resolver configuration.
func NewBackoffPolicy(cfg *common.ResolverConfig) BackoffPolicy {
	p := BackoffPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.GetMinDelay(),
		MaxDelay:    cfg.GetMaxDelay(),
		Multiplier:  cfg.Multiplier,
		Jitter:      cfg.Jitter,
		rand:        rand.Float64,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 8
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Delay returns the pause after the n-th (zero-based) rate-limit signal of a resolution.
func (p BackoffPolicy) Delay(n int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n))
	if max := float64(p.MaxDelay); max > 0 && d > max {
		d = max
	}
	if p.Jitter > 0 && p.rand != nil {
		d += d * p.Jitter * p.rand()
	}
	return time.Duration(d)
}
