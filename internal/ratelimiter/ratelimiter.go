// Package ratelimiter implements the singleton batch-pacing coordinator for
// outbound face-provider calls (spec section 4.1). It is generalized from
// the teacher's per-IP rate.Limiter map (internal/middleware/ratelimit.go):
// that shape gives each caller an independent token bucket, but this
// component needs one global, linearizable slot counter shared by every
// Index Processor worker, with an additive throttle penalty a token bucket
// cannot express. A single mutex guarding one monotonic timestamp is the
// simplest thing that satisfies both.
package ratelimiter

import (
	"sync"
	"time"
)

// Reservation is the result of reserving a batch of n provider calls.
type Reservation struct {
	Delay      time.Duration
	IntervalMs int64
}

// Status is a point-in-time snapshot for observability.
type Status struct {
	BacklogMs  int64
	TPS        int
	IntervalMs int64
}

// Limiter is the process-wide singleton described in spec section 4.1.
// State is intentionally process-local: on restart lastBatchEndTime resets
// to zero, which is equivalent to "no recent calls" and is safe.
type Limiter struct {
	mu               sync.Mutex
	tps              int
	safeIntervalMs   int64
	lastBatchEndTime int64 // monotonic ms, relative to an arbitrary epoch

	now func() time.Time // overridable for tests
}

// New creates a Limiter paced at tps calls/sec, with safeIntervalMs as the
// per-call spacing (ceil(1000 / (tps * safetyFactor)), computed by
// config.RateLimiter.SafeIntervalMs).
func New(tps int, safeIntervalMs int64) *Limiter {
	return &Limiter{
		tps:            tps,
		safeIntervalMs: safeIntervalMs,
		now:            time.Now,
	}
}

func (l *Limiter) nowMs() int64 {
	return l.now().UnixMilli()
}

// ReserveBatch admits a batch of n outbound calls. It linearizes batches:
// the batch that reserves second starts no earlier than the moment the
// first batch's last call was scheduled.
func (l *Limiter) ReserveBatch(n int) Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowMs()
	delay := l.lastBatchEndTime - now
	if delay < 0 {
		delay = 0
	}
	slotStart := now + delay
	l.lastBatchEndTime = slotStart + int64(n)*l.safeIntervalMs

	return Reservation{
		Delay:      time.Duration(delay) * time.Millisecond,
		IntervalMs: l.safeIntervalMs,
	}
}

// ReportThrottle applies an additive, never-decreasing penalty after the
// provider signals a throttle response.
func (l *Limiter) ReportThrottle(extraMs int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowMs()
	base := l.lastBatchEndTime
	if now > base {
		base = now
	}
	l.lastBatchEndTime = base + extraMs
}

// Status reports the current backlog and configured pacing.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	backlog := l.lastBatchEndTime - l.nowMs()
	if backlog < 0 {
		backlog = 0
	}
	return Status{
		BacklogMs:  backlog,
		TPS:        l.tps,
		IntervalMs: l.safeIntervalMs,
	}
}

// Reset clears accumulated backlog. Intended for tests.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastBatchEndTime = 0
}
