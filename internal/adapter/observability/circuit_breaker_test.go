package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("fred", 2, time.Minute)
	boom := errors.New("boom")

	require.Error(t, cb.Call(func() error { return boom }))
	require.Equal(t, StateClosed, cb.State())
	require.Error(t, cb.Call(func() error { return boom }))
	require.Equal(t, StateOpen, cb.State())

	err := cb.Call(func() error { return nil })
	require.ErrorContains(t, err, "circuit breaker fred is open")
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("bls", 1, 10*time.Millisecond)
	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Call(func() error { return nil }))
	}
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("census", 1, 10*time.Millisecond)
	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	time.Sleep(15 * time.Millisecond)
	require.Error(t, cb.Call(func() error { return errors.New("boom again") }))
	require.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_ClosedResetsFailuresOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("av", 3, time.Minute)
	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	require.NoError(t, cb.Call(func() error { return nil }))
	// Two more failures should not open since the counter was reset.
	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	require.Equal(t, StateClosed, cb.State())
}
