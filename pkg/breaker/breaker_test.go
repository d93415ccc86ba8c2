package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failingOp(ctx context.Context) (interface{}, error) { return nil, errBoom }
func okOp(ctx context.Context) (interface{}, error)      { return "ok", nil }

func newTestBreaker(threshold int, reset time.Duration, halfOpenMax int) *Breaker {
	return New(Settings{
		Name:                "database",
		FailureThreshold:    threshold,
		ResetTimeout:        reset,
		HalfOpenMaxAttempts: halfOpenMax,
		MonitoringPeriod:    time.Minute,
	})
}

func TestBreaker_OpensAfterThresholdFailures(t *testing.T) {
	ctx := context.Background()
	b := newTestBreaker(3, time.Minute, 1)

	for i := 0; i < 3; i++ {
		_, err := b.Execute(ctx, failingOp, nil)
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	// Next call is short-circuited, the operation never runs.
	ran := false
	_, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		ran = true
		return nil, nil
	}, nil)
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, ran)
}

func TestBreaker_OpenUsesFallback(t *testing.T) {
	ctx := context.Background()
	b := newTestBreaker(1, time.Minute, 1)

	_, err := b.Execute(ctx, failingOp, nil)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, StateOpen, b.State())

	res, err := b.Execute(ctx, failingOp, func(ctx context.Context, err error) (interface{}, error) {
		assert.ErrorIs(t, err, ErrOpen)
		return "degraded", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "degraded", res)
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	ctx := context.Background()
	b := newTestBreaker(1, 20*time.Millisecond, 1)

	_, _ = b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	// Exactly one probe passes through; a concurrent second call while the
	// probe is outstanding would short-circuit.
	res, err := b.Execute(ctx, okOp, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	b := newTestBreaker(1, 20*time.Millisecond, 2)

	_, _ = b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	_, err := b.Execute(ctx, failingOp, nil)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenNeedsConsecutiveSuccesses(t *testing.T) {
	ctx := context.Background()
	b := newTestBreaker(1, 10*time.Millisecond, 2)

	_, _ = b.Execute(ctx, failingOp, nil)
	time.Sleep(20 * time.Millisecond)

	_, err := b.Execute(ctx, okOp, nil)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State(), "one success of two required keeps the breaker half-open")

	_, err = b.Execute(ctx, okOp, nil)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_QuietPeriodResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	b := New(Settings{
		Name:                "cache",
		FailureThreshold:    2,
		ResetTimeout:        time.Minute,
		HalfOpenMaxAttempts: 1,
		MonitoringPeriod:    15 * time.Millisecond,
	})

	_, _ = b.Execute(ctx, failingOp, nil)
	assert.Equal(t, StateClosed, b.State())

	// The monitoring period elapses without failures, clearing the counter,
	// so the next single failure does not trip the breaker.
	time.Sleep(25 * time.Millisecond)
	_, _ = b.Execute(ctx, failingOp, nil)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_SnapshotShape(t *testing.T) {
	ctx := context.Background()
	b := newTestBreaker(1, time.Minute, 1)

	snap := b.Snapshot()
	assert.Equal(t, "database", snap.Name)
	assert.Equal(t, "CLOSED", snap.State)
	assert.Nil(t, snap.LastFailureAt)

	_, _ = b.Execute(ctx, failingOp, nil)
	snap = b.Snapshot()
	assert.Equal(t, "OPEN", snap.State)
	require.NotNil(t, snap.LastFailureAt)
	require.NotNil(t, snap.OpenedAt)
}

func TestBreaker_DefaultsApplied(t *testing.T) {
	b := New(Settings{Name: "matrix"})
	assert.Equal(t, defaultFailureThreshold, b.failureThreshold)
	assert.Equal(t, defaultResetTimeout, b.resetTimeout)
	assert.Equal(t, defaultHalfOpenMaxAttempts, b.halfOpenMaxAttempts)
	assert.Equal(t, defaultMonitoringPeriod, b.monitoringPeriod)
}

func TestState_MetricValues(t *testing.T) {
	assert.Equal(t, 0.0, StateClosed.MetricValue())
	assert.Equal(t, 0.5, StateHalfOpen.MetricValue())
	assert.Equal(t, 1.0, StateOpen.MetricValue())
}
