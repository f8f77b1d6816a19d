package capture

import (
	"sync"
	"sync/atomic"
)

// FrameSwap is a single-slot frame exchange between the capture loop
// and the processor. Put replaces whatever frame is waiting; Take
// removes it. The pending frame is always the newest one captured.
type FrameSwap struct {
	mu      sync.Mutex
	pending *Frame

	put      atomic.Uint64
	taken    atomic.Uint64
	replaced atomic.Uint64
}

// NewFrameSwap creates an empty swap.
func NewFrameSwap() *FrameSwap {
	return &FrameSwap{}
}

// Put stores frame as the pending one. A frame already waiting is
// released and counted as replaced.
func (s *FrameSwap) Put(frame *Frame) {
	s.mu.Lock()
	old := s.pending
	s.pending = frame
	s.mu.Unlock()

	s.put.Add(1)
	if old != nil {
		old.Release()
		s.replaced.Add(1)
	}
}

// Take removes and returns the pending frame, or nil when the slot is
// empty. The caller owns the frame and must Release it.
func (s *FrameSwap) Take() *Frame {
	s.mu.Lock()
	frame := s.pending
	s.pending = nil
	s.mu.Unlock()

	if frame != nil {
		s.taken.Add(1)
	}
	return frame
}

// Counters reports frames put, taken, and replaced-before-taken.
func (s *FrameSwap) Counters() (put, taken, replaced uint64) {
	return s.put.Load(), s.taken.Load(), s.replaced.Load()
}
