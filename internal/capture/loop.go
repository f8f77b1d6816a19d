package capture

import (
	"context"
	"time"

	"github.com/presence-data/facegate/internal/monitoring"
	"github.com/presence-data/facegate/internal/timeutil"
)

// ProcessFunc is invoked for frames selected for processing. It runs
// on its own goroutine so a slow pass never stalls capture.
type ProcessFunc func(seq uint64, frame *Frame)

// LoopConfig controls the capture loop cadence.
type LoopConfig struct {
	// Interval is the capture tick period.
	Interval time.Duration

	// FrameSkip submits every Nth frame for processing. 1 submits
	// every frame.
	FrameSkip int
}

// Loop pulls frames from a Source on a ticker, keeps the latest one in
// a FrameSwap for the display side, and submits every Nth frame to the
// processor.
type Loop struct {
	cfg     LoopConfig
	source  Source
	swap    *FrameSwap
	process ProcessFunc
	clock   timeutil.Clock

	seq uint64
}

// NewLoop creates a capture loop. Run starts it.
func NewLoop(cfg LoopConfig, source Source, swap *FrameSwap, process ProcessFunc, clock timeutil.Clock) *Loop {
	if cfg.FrameSkip < 1 {
		cfg.FrameSkip = 1
	}
	return &Loop{
		cfg:     cfg,
		source:  source,
		swap:    swap,
		process: process,
		clock:   clock,
	}
}

// Run captures frames until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if err := l.captureOne(); err != nil {
				monitoring.Logf("capture: grab failed: %v", err)
			}
		}
	}
}

func (l *Loop) captureOne() error {
	img, err := l.source.Grab()
	if err != nil {
		return err
	}

	l.seq++
	seq := l.seq
	frame := NewFrame(seq, img, l.clock.Now(), nil)

	// the processor holds its own reference, so the swap replacing or
	// releasing the frame cannot pull the buffer out from under it
	if l.process != nil && seq%uint64(l.cfg.FrameSkip) == 0 {
		go l.process(seq, frame.Retain())
	}
	l.swap.Put(frame)
	return nil
}
