package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayNonDecreasingUpToCap(t *testing.T) {
	const base, cap = 1.0, 300.0
	prevMin := 0.0
	for attempt := 1; attempt <= 12; attempt++ {
		// floor of the jitter range is delay*0.8; the underlying expo value
		// only grows (or saturates at cap), so the floor should too.
		d := expo(attempt, base, cap)
		floor := d * 0.8
		assert.GreaterOrEqual(t, floor, prevMin*0.8-1e-9)
		prevMin = d
	}
}

func TestBackoffDelayRespectsCapAndIsPositive(t *testing.T) {
	for attempt := 1; attempt <= 30; attempt++ {
		d := BackoffDelay(attempt, 1.0, 300.0)
		assert.Greater(t, d, 0.0)
		assert.LessOrEqual(t, d, 300.0*1.2+1e-9)
	}
}

func TestThrottleBackoffExceedsNormalAtAttemptOne(t *testing.T) {
	const base, throttleBase, cap = 1.0, 3.0, 300.0

	// Compare the unjittered curves directly: jitter on both sides could
	// coincidentally overlap at the boundary, but the underlying shape must
	// satisfy throttleBase > base at attempt 1.
	normal := expo(1, base, cap)
	throttle := expo(1, throttleBase, cap)

	assert.Greater(t, throttle, normal)
}

func TestAckSemantics(t *testing.T) {
	assert.True(t, Ack(nil))
	assert.True(t, Ack(Terminal("bad_input", "", nil)))
	assert.True(t, Ack(IdempotentSuccess("already_exists", "rekognition")))
	assert.False(t, Ack(Retryable("conn_reset", "", nil)))
	assert.False(t, Ack(Throttle("throttling", "rekognition", nil)))
}
