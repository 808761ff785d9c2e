package fabric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 3, Window: time.Minute, OpenDuration: time.Second})
	assert.Equal(t, "closed", b.State())
	assert.NoError(t, b.Allow())
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 3, Window: time.Minute, OpenDuration: time.Hour})
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, "closed", b.State())
	b.RecordFailure()
	assert.Equal(t, "open", b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_FailuresOutsideWindowDontCount(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, Window: 10 * time.Millisecond, OpenDuration: time.Hour})
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.RecordFailure()
	assert.Equal(t, "closed", b.State())
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, Window: time.Minute, OpenDuration: 10 * time.Millisecond})
	b.RecordFailure()
	require.Equal(t, "open", b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Allow())
	assert.Equal(t, "half_open", b.State())
}

func TestCircuitBreaker_HalfOpenRejectsConcurrentProbe(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, Window: time.Minute, OpenDuration: 10 * time.Millisecond})
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, Window: time.Minute, OpenDuration: 10 * time.Millisecond})
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, "open", b.State())
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, Window: time.Minute, OpenDuration: 10 * time.Millisecond})
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, "closed", b.State())
	assert.NoError(t, b.Allow())
}
