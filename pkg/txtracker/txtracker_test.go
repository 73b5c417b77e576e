package txtracker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reserveAndCommit(t *testing.T, tr *Tracker, id uint32, timeoutMs int) (uint8, error) {
	t.Helper()
	transID, err := tr.Reserve(timeoutMs)
	if err != nil {
		return 0, err
	}
	tr.Commit(Entry{TransID: transID, ID: id})
	return transID, nil
}

func TestReserveAssignsWrappingIDs(t *testing.T) {
	tr := New(200, 200)
	first, err := reserveAndCommit(t, tr, 1, 0)
	require.NoError(t, err)
	second, err := reserveAndCommit(t, tr, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
}

func TestReserveFailsAtCapWithZeroTimeout(t *testing.T) {
	tr := New(4, 4)
	for i := 0; i < 4; i++ {
		_, err := reserveAndCommit(t, tr, uint32(i), 0)
		require.NoError(t, err)
	}
	_, err := tr.Reserve(0)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestRollbackFreesSlotWithoutRingEntry(t *testing.T) {
	tr := New(1, 1)
	id, err := tr.Reserve(0)
	require.NoError(t, err)
	tr.Rollback(id)
	assert.Equal(t, uint32(0), tr.Outstanding())

	// Slot is free again and no stray entry exists to match against.
	_, ok := tr.MatchAck(id)
	assert.False(t, ok)
}

func TestMatchAckRemovesEntryAndFreesSlot(t *testing.T) {
	tr := New(4, 4)
	id, err := reserveAndCommit(t, tr, 99, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), tr.Outstanding())

	entry, ok := tr.MatchAck(id)
	assert.True(t, ok)
	assert.Equal(t, uint32(99), entry.ID)
	assert.Equal(t, uint32(0), tr.Outstanding())

	_, ok = tr.MatchAck(id)
	assert.False(t, ok)
}

func TestFlushDropsAllOutstanding(t *testing.T) {
	tr := New(4, 4)
	reserveAndCommit(t, tr, 1, 0)
	reserveAndCommit(t, tr, 2, 0)
	dropped := tr.Flush()
	assert.Len(t, dropped, 2)
	assert.Equal(t, uint32(0), tr.Outstanding())
}

func TestReserveBlocksThenUnblocksOnAck(t *testing.T) {
	tr := New(1, 1)
	id, err := reserveAndCommit(t, tr, 1, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var secondErr error
	go func() {
		defer wg.Done()
		_, secondErr = tr.Reserve(1000)
	}()

	time.Sleep(20 * time.Millisecond)
	_, ok := tr.MatchAck(id)
	assert.True(t, ok)

	wg.Wait()
	assert.NoError(t, secondErr)
}

func TestReserveTimesOutUnderSustainedCap(t *testing.T) {
	tr := New(1, 1)
	_, err := reserveAndCommit(t, tr, 1, 0)
	require.NoError(t, err)

	start := time.Now()
	_, err = tr.Reserve(30)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestTransactionIDWrapsAt128(t *testing.T) {
	tr := New(200, 200)
	var last uint8
	for i := 0; i < 128; i++ {
		id, err := reserveAndCommit(t, tr, uint32(i), 0)
		require.NoError(t, err)
		last = id
	}
	assert.Equal(t, uint8(127), last)
	wrapped, err := reserveAndCommit(t, tr, 200, 0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), wrapped)
}
