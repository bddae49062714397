package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// DefaultConfig / New
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.Threshold)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name          string
		cfg           Config
		wantThreshold int
		wantTimeout   time.Duration
	}{
		{
			name:          "zero values corrected to defaults",
			cfg:           Config{},
			wantThreshold: 5,
			wantTimeout:   30 * time.Second,
		},
		{
			name:          "custom values preserved",
			cfg:           Config{Threshold: 3, Timeout: 50 * time.Millisecond},
			wantThreshold: 3,
			wantTimeout:   50 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("redis_cache", tt.cfg, zap.NewNop())
			require.NotNil(t, b)
			assert.Equal(t, StateClosed, b.State())
			assert.Equal(t, tt.wantThreshold, b.config.Threshold)
			assert.Equal(t, tt.wantTimeout, b.config.Timeout)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

// ---------------------------------------------------------------------------
// State machine
// ---------------------------------------------------------------------------

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New("test", Config{Threshold: 3, Timeout: time.Minute}, zap.NewNop())

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.False(t, b.IsOpen())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.True(t, b.IsOpen())
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b := New("test", Config{Threshold: 1, Timeout: 30 * time.Millisecond}, zap.NewNop())

	b.RecordFailure()
	require.True(t, b.IsOpen())

	time.Sleep(50 * time.Millisecond)

	// Cooldown elapsed: next check lets a probe through as HALF_OPEN.
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Status().FailureCount)
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := New("test", Config{Threshold: 5, Timeout: 30 * time.Millisecond}, zap.NewNop())

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.True(t, b.IsOpen())

	time.Sleep(50 * time.Millisecond)
	require.False(t, b.IsOpen())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_SuccessWhileOpenRecovers(t *testing.T) {
	b := New("test", Config{Threshold: 1, Timeout: time.Minute}, zap.NewNop())

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	// A racing success is treated defensively as recovery.
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Status().FailureCount)
}

// ---------------------------------------------------------------------------
// Protect
// ---------------------------------------------------------------------------

func TestBreaker_ProtectRecordsOutcome(t *testing.T) {
	b := New("test", Config{Threshold: 2, Timeout: time.Minute}, zap.NewNop())
	boom := errors.New("boom")

	err := b.Protect(func() error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, b.Status().FailureCount)

	err = b.Protect(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, b.Status().FailureCount)
}

func TestBreaker_ProtectRejectsWhenOpen(t *testing.T) {
	b := New("test", Config{Threshold: 1, Timeout: time.Minute}, zap.NewNop())
	b.RecordFailure()

	called := false
	err := b.Protect(func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

func TestBreaker_Status(t *testing.T) {
	b := New("redis_cache", Config{Threshold: 5, Timeout: time.Minute}, zap.NewNop())

	s := b.Status()
	assert.Equal(t, "CLOSED", s.State)
	assert.Equal(t, 0, s.FailureCount)
	assert.Equal(t, 5, s.Threshold)
	assert.True(t, s.LastFailureTime.IsZero())
	assert.Zero(t, s.TimeSinceLastFailure)

	b.RecordFailure()
	s = b.Status()
	assert.Equal(t, 1, s.FailureCount)
	assert.False(t, s.LastFailureTime.IsZero())
}
