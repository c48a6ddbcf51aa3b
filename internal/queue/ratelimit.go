package queue

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/reperio/internal/models"
)

// Limiter caps job admissions to Max per rolling Duration window. A zero Max
// disables limiting. Workers call Wait with a job already in hand, so budget
// is spent exactly once per dispatched job and never on empty polls.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter creates a limiter for the given config.
func NewLimiter(cfg models.RateLimitConfig) *Limiter {
	if cfg.Max <= 0 || cfg.Duration <= 0 {
		return &Limiter{}
	}
	interval := cfg.Duration / time.Duration(cfg.Max)
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(interval), cfg.Max),
	}
}

// Wait blocks until one admission token is available. The token is consumed
// on success; a wait abandoned via ctx consumes nothing.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}
