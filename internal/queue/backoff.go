package queue

import (
	"time"

	"github.com/ternarybob/reperio/internal/models"
)

// defaultMaxBackoff caps exponential growth when the config leaves MaxDelay unset.
const defaultMaxBackoff = 5 * time.Minute

// RetryDelay computes the delay before re-dispatching a job whose attempt
// number `attempt` (1-based) just failed. Fixed backoff always waits Delay;
// exponential waits Delay * 2^(attempt-1), capped at MaxDelay.
func RetryDelay(cfg models.BackoffConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxBackoff
	}

	if cfg.Type != models.BackoffExponential {
		if cfg.Delay > maxDelay {
			return maxDelay
		}
		return cfg.Delay
	}

	delay := cfg.Delay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
