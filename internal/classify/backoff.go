package classify

import (
	"math"
	"math/rand"
)

// getBackoffDelay / getThrottleBackoffDelay shapes, spec section 4.5.
// BaseSeconds/CapSeconds/ThrottleBaseSeconds come from internal/config.

// BackoffDelay returns the normal retry delay, in seconds, for the given
// 1-based attempt: min(cap, base * 2^(attempt-1)) * jitter(0.8..1.2).
func BackoffDelay(attempt int, base, cap float64) float64 {
	return jittered(expo(attempt, base, cap))
}

// ThrottleBackoffDelay returns the throttle retry delay, in seconds, using
// throttleBase in place of base. throttleBase must be > base so the
// throttle curve is strictly above the normal curve at attempt 1.
func ThrottleBackoffDelay(attempt int, throttleBase, cap float64) float64 {
	return jittered(expo(attempt, throttleBase, cap))
}

func expo(attempt int, base, cap float64) float64 {
	if attempt < 1 {
		attempt = 1
	}
	delay := base * math.Pow(2, float64(attempt-1))
	if delay > cap {
		delay = cap
	}
	return delay
}

// jittered applies a uniform 0.8..1.2 multiplier so concurrent retriers
// don't collide on the same schedule.
func jittered(delay float64) float64 {
	return delay * (0.8 + rand.Float64()*0.4)
}
