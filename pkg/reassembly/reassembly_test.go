package reassembly

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func bytes(n int, start byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = start + byte(i)
	}
	return b
}

func TestP1OnlyCompletesImmediately(t *testing.T) {
	r := New()
	frame, ok := r.FeedP1(P1{ID: 42, DLC: 8, Data: bytes(8, 0)})
	assert.True(t, ok)
	assert.Equal(t, uint32(42), frame.ID)
	assert.Len(t, frame.Data, 8)
}

func TestP1P2Completes(t *testing.T) {
	r := New()
	_, ok := r.FeedP1(P1{ID: 1, DLC: 30, Data: bytes(18, 0)})
	assert.False(t, ok)
	frame, ok := r.FeedP2(P2{Data: bytes(12, 100)})
	assert.True(t, ok)
	assert.Len(t, frame.Data, 30)
	assert.Equal(t, byte(100), frame.Data[18])
}

func TestP1P2P3Completes(t *testing.T) {
	r := New()
	_, ok := r.FeedP1(P1{ID: 7, DLC: 64, Flags: 0x10000, TimestampRaw: 555, Data: bytes(18, 0)})
	assert.False(t, ok)
	_, ok = r.FeedP2(P2{Data: bytes(28, 1)})
	assert.False(t, ok)
	frame, ok := r.FeedP3(P3{Data: bytes(18, 2)})
	assert.True(t, ok)
	assert.Len(t, frame.Data, 64)
	assert.Equal(t, uint32(7), frame.ID)
	assert.Equal(t, uint32(0x10000), frame.Flags)
	assert.Equal(t, uint32(555), frame.TimestampRaw)
}

func TestDoubleP1ResyncsWithoutEmitting(t *testing.T) {
	r := New()
	_, ok := r.FeedP1(P1{ID: 1, DLC: 64, Data: bytes(18, 0)})
	assert.False(t, ok)
	// A second P1 arrives before P2/P3: discard first, begin anew.
	frame, ok := r.FeedP1(P1{ID: 2, DLC: 8, Data: bytes(8, 0)})
	assert.True(t, ok)
	assert.Equal(t, uint32(2), frame.ID)
}

func TestP2WithNoPendingP1IsDiscarded(t *testing.T) {
	r := New()
	_, ok := r.FeedP2(P2{Data: bytes(28, 0)})
	assert.False(t, ok)
}

func TestP3DuringAwaitP2Resyncs(t *testing.T) {
	r := New()
	r.FeedP1(P1{ID: 1, DLC: 30, Data: bytes(18, 0)})
	_, ok := r.FeedP3(P3{Data: bytes(18, 0)})
	assert.False(t, ok)

	// state must be back to Idle: a fresh P1 completes normally.
	frame, ok := r.FeedP1(P1{ID: 9, DLC: 8, Data: bytes(8, 0)})
	assert.True(t, ok)
	assert.Equal(t, uint32(9), frame.ID)
}

func TestP2DuringAwaitP3Resyncs(t *testing.T) {
	r := New()
	r.FeedP1(P1{ID: 1, DLC: 64, Data: bytes(18, 0)})
	r.FeedP2(P2{Data: bytes(28, 0)}) // now AwaitP3
	_, ok := r.FeedP2(P2{Data: bytes(28, 0)})
	assert.False(t, ok)

	frame, ok := r.FeedP1(P1{ID: 3, DLC: 8, Data: bytes(8, 0)})
	assert.True(t, ok)
	assert.Equal(t, uint32(3), frame.ID)
}

func TestResetClearsInProgressFragment(t *testing.T) {
	r := New()
	r.FeedP1(P1{ID: 1, DLC: 64, Data: bytes(18, 0)})
	r.Reset()
	_, ok := r.FeedP2(P2{Data: bytes(28, 0)})
	assert.False(t, ok)
}
