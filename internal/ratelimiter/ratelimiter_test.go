package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveBatchLinearizesSuccessiveBatches(t *testing.T) {
	l := New(50, 22)

	r1 := l.ReserveBatch(5)
	r2 := l.ReserveBatch(3)

	require.Equal(t, int64(22), r1.IntervalMs)
	require.Equal(t, int64(22), r2.IntervalMs)

	firstBatchLastCall := r1.Delay + time.Duration(5*22)*time.Millisecond
	secondBatchStart := r2.Delay

	assert.GreaterOrEqual(t, secondBatchStart.Milliseconds(), firstBatchLastCall.Milliseconds()-5)
}

func TestReportThrottleNeverDecreasesBacklog(t *testing.T) {
	l := New(50, 22)
	l.ReserveBatch(10)

	before := l.Status().BacklogMs
	l.ReportThrottle(2000)
	after := l.Status().BacklogMs

	assert.Greater(t, after, before)
}

func TestResetClearsBacklog(t *testing.T) {
	l := New(50, 22)
	l.ReserveBatch(100)
	require.Greater(t, l.Status().BacklogMs, int64(0))

	l.Reset()
	assert.Equal(t, int64(0), l.Status().BacklogMs)
}
