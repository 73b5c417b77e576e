package timesync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnchorAtOpenIsOrigin(t *testing.T) {
	s := New(1)
	s.AnchorAtOpen(1_000_000)
	assert.Equal(t, uint64(1_000_000), s.StampEvent(0))
}

func TestStampEventAdvancesWithDivisor(t *testing.T) {
	s := New(10) // 10 ticks per microsecond
	s.AnchorAtOpen(0)
	assert.Equal(t, uint64(0), s.StampEvent(0))
	assert.Equal(t, uint64(100), s.StampEvent(1000))
}

func TestStampEventHandlesWrap(t *testing.T) {
	s := New(1)
	s.AnchorAtOpen(0)
	assert.Equal(t, uint64(0xFFFFFFF0), s.StampEvent(0xFFFFFFF0))
	// wraps past 0xFFFFFFFF back to a small value
	got := s.StampEvent(0x10)
	assert.Equal(t, uint64(DefaultWrapStep)+0x10, got)
	assert.Greater(t, got, uint64(0xFFFFFFF0))
}

func TestEventAndTimerStreamsAreIndependent(t *testing.T) {
	s := New(1)
	s.AnchorAtOpen(0)
	// Drive the timer stream near a wrap boundary while leaving the
	// event stream untouched; the event stream must not see a wrap.
	require.NoError(t, s.AdjustDrift(0xFFFFFFF0, 100, 0))
	assert.Equal(t, uint64(0x10), s.StampEvent(0x10))
}

func TestAdjustDriftFirstCallEstablishesBaseline(t *testing.T) {
	s := New(1)
	s.AnchorAtOpen(0)
	err := s.AdjustDrift(1000, 5000, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.DriftFactor())
}

func TestAdjustDriftMovesTowardMeasuredRatio(t *testing.T) {
	s := New(1)
	s.AnchorAtOpen(0)
	require.NoError(t, s.AdjustDrift(0, 0, 0))
	// Device appears to run at half host speed over this interval.
	require.NoError(t, s.AdjustDrift(1000, 2000, 0))
	assert.InDelta(t, 2.0, s.DriftFactor(), 1e-9)
}

func TestAdjustDriftCapsStepSize(t *testing.T) {
	s := New(1)
	s.AnchorAtOpen(0)
	require.NoError(t, s.AdjustDrift(0, 0, 0))
	// Without a cap this would jump the factor to 2.0; cap the change.
	require.NoError(t, s.AdjustDrift(1000, 2000, 250))
	assert.InDelta(t, 1.25, s.DriftFactor(), 1e-9)
}

func TestAdjustDriftClampsBackwardsHostClock(t *testing.T) {
	s := New(1)
	s.AnchorAtOpen(0)
	require.NoError(t, s.AdjustDrift(0, 1000, 0))
	require.NoError(t, s.AdjustDrift(2000, 900, 0))
	assert.Equal(t, 1.0, s.DriftFactor())
}

func TestAdjustDriftRejectsNonPositiveDeviceDelta(t *testing.T) {
	s := New(1)
	s.AnchorAtOpen(0)
	require.NoError(t, s.AdjustDrift(1000, 1000, 0))
	err := s.AdjustDrift(1000, 2000, 0)
	assert.Error(t, err)
}

func TestOnReadTimeoutCheckResynthesisesMSB(t *testing.T) {
	s := New(1)
	s.AnchorAtOpen(0)
	// Simulate a long idle period: the device clock has wrapped twice
	// without any frames flowing to detect it incrementally.
	fullReading := 2*DefaultWrapStep + 0x1000
	s.OnReadTimeoutCheck(fullReading)
	assert.Equal(t, uint64(2*DefaultWrapStep+0x2000), s.StampEvent(0x2000))
}
