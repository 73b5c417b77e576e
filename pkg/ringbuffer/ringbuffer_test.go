package ringbuffer

import (
	"testing"

	"github.com/quadcan/canlink"
	"github.com/stretchr/testify/assert"
)

func TestEmptyFull(t *testing.T) {
	r := New(4)
	assert.True(t, r.IsEmpty())
	assert.Equal(t, 4, r.Available())
	assert.Equal(t, 0, r.Count())

	for i := 0; i < 4; i++ {
		ok := r.WriteRecord(canlink.Frame{ID: uint32(i)})
		assert.True(t, ok)
	}
	assert.Equal(t, 4, r.Count())
	assert.Equal(t, 0, r.Available())
}

func TestOverflowIsSilent(t *testing.T) {
	r := New(2)
	assert.True(t, r.WriteRecord(canlink.Frame{ID: 1}))
	assert.True(t, r.WriteRecord(canlink.Frame{ID: 2}))
	assert.False(t, r.WriteRecord(canlink.Frame{ID: 3}))
	assert.Nil(t, r.WritePtr())

	f, ok := r.Read()
	assert.True(t, ok)
	assert.Equal(t, uint32(1), f.ID)
}

func TestFIFOOrder(t *testing.T) {
	r := New(8)
	for i := 0; i < 8; i++ {
		r.WriteRecord(canlink.Frame{ID: uint32(i)})
	}
	for i := 0; i < 8; i++ {
		f, ok := r.Read()
		assert.True(t, ok)
		assert.Equal(t, uint32(i), f.ID)
	}
	_, ok := r.Read()
	assert.False(t, ok)
}

func TestWrapAround(t *testing.T) {
	r := New(3)
	r.WriteRecord(canlink.Frame{ID: 1})
	r.WriteRecord(canlink.Frame{ID: 2})
	f, _ := r.Read()
	assert.Equal(t, uint32(1), f.ID)
	r.WriteRecord(canlink.Frame{ID: 3})
	r.WriteRecord(canlink.Frame{ID: 4})
	// ring is now full again: 2,3,4
	assert.Equal(t, 3, r.Count())
	for _, want := range []uint32{2, 3, 4} {
		got, ok := r.Read()
		assert.True(t, ok)
		assert.Equal(t, want, got.ID)
	}
}

func TestClear(t *testing.T) {
	r := New(4)
	r.WriteRecord(canlink.Frame{ID: 1})
	r.Clear()
	assert.True(t, r.IsEmpty())
	assert.Equal(t, 4, r.Available())
}
