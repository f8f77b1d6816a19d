package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presence-data/facegate/internal/timeutil"
)

type erroringSource struct{}

func (erroringSource) Grab() (image.Image, error) { return nil, errors.New("device busy") }
func (erroringSource) Close() error               { return nil }

func TestLoopSubmitsEveryNthFrame(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var processed []uint64
	var wg sync.WaitGroup

	swap := NewFrameSwap()
	loop := NewLoop(LoopConfig{Interval: 33 * time.Millisecond, FrameSkip: 3},
		NewSyntheticSource(64, 48), swap,
		func(seq uint64, frame *Frame) {
			mu.Lock()
			processed = append(processed, seq)
			mu.Unlock()
			wg.Done()
		},
		timeutil.NewMockClock(time.Now()))

	wg.Add(2)
	for i := 0; i < 6; i++ {
		require.NoError(t, loop.captureOne())
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []uint64{3, 6}, processed)

	put, _, _ := swap.Counters()
	assert.Equal(t, uint64(6), put)
}

func TestLoopKeepsLatestFrameInSwap(t *testing.T) {
	t.Parallel()

	swap := NewFrameSwap()
	loop := NewLoop(LoopConfig{Interval: 33 * time.Millisecond, FrameSkip: 100},
		NewSyntheticSource(64, 48), swap, nil,
		timeutil.NewMockClock(time.Now()))

	for i := 0; i < 4; i++ {
		require.NoError(t, loop.captureOne())
	}

	f := swap.Take()
	require.NotNil(t, f)
	assert.Equal(t, uint64(4), f.Seq)
	assert.NotNil(t, f.Image)
}

func TestLoopGrabFailureSurfaces(t *testing.T) {
	t.Parallel()

	swap := NewFrameSwap()
	loop := NewLoop(LoopConfig{Interval: 33 * time.Millisecond, FrameSkip: 1},
		erroringSource{}, swap, nil,
		timeutil.NewMockClock(time.Now()))

	assert.Error(t, loop.captureOne())
	assert.Nil(t, swap.Take())
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	loop := NewLoop(LoopConfig{Interval: 33 * time.Millisecond, FrameSkip: 1},
		NewSyntheticSource(64, 48), NewFrameSwap(), nil,
		timeutil.NewMockClock(time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on cancel")
	}
}

func TestSyntheticSourceClosedGrabFails(t *testing.T) {
	t.Parallel()

	src := NewSyntheticSource(64, 48)
	img, err := src.Grab()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())

	require.NoError(t, src.Close())
	_, err = src.Grab()
	assert.Error(t, err)
}
