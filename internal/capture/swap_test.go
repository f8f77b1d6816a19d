package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(seq uint64, release func()) *Frame {
	return NewFrame(seq, nil, time.Now(), release)
}

func TestFrameReleaseRunsOnce(t *testing.T) {
	t.Parallel()

	released := 0
	f := testFrame(1, func() { released++ })

	f.Release()
	f.Release()
	assert.Equal(t, 1, released)

	// nil release is fine
	testFrame(2, nil).Release()
}

func TestFrameRetainSharesOwnership(t *testing.T) {
	t.Parallel()

	released := 0
	f := NewFrame(1, nil, time.Now(), func() { released++ })
	held := f.Retain()

	s := NewFrameSwap()
	s.Put(f)

	// replacing the frame drops only the swap's reference; the holder's
	// buffer stays valid
	s.Put(testFrame(2, nil))
	assert.Equal(t, 0, released)

	held.Release()
	assert.Equal(t, 1, released)
}

func TestFrameSwapLatestWins(t *testing.T) {
	t.Parallel()

	s := NewFrameSwap()
	assert.Nil(t, s.Take())

	releasedFirst := false
	s.Put(testFrame(1, func() { releasedFirst = true }))
	s.Put(testFrame(2, nil))

	// the stale frame was released when replaced
	assert.True(t, releasedFirst)

	f := s.Take()
	require.NotNil(t, f)
	assert.Equal(t, uint64(2), f.Seq)

	assert.Nil(t, s.Take())
}

func TestFrameSwapCounters(t *testing.T) {
	t.Parallel()

	s := NewFrameSwap()
	s.Put(testFrame(1, nil))
	s.Put(testFrame(2, nil))
	s.Take()
	s.Take()
	s.Put(testFrame(3, nil))

	put, taken, replaced := s.Counters()
	assert.Equal(t, uint64(3), put)
	assert.Equal(t, uint64(1), taken)
	assert.Equal(t, uint64(1), replaced)
}
