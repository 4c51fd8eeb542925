package resilience

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// maxShift keeps base<<n inside int64 before the cap applies
const maxShift = 62

// Backoff returns the delay before retry number n (0-based):
// min(base*2^n, ceiling), raised to retryAfter when the provider asked for
// longer.
func Backoff(base, ceiling time.Duration, n int, retryAfter time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultConfig().BackoffBase
	}
	if ceiling < base {
		ceiling = base
	}
	if n < 0 {
		n = 0
	}

	var d time.Duration
	if n >= maxShift {
		d = ceiling
	} else {
		b := retry.WithCappedDuration(ceiling, retry.NewExponential(base))
		for i := 0; i <= n; i++ {
			d, _ = b.Next()
		}
	}

	if retryAfter > d {
		return retryAfter
	}
	return d
}
