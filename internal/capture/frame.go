// Package capture acquires camera frames and hands them to the
// processing side through a single-slot latest-wins buffer, so a slow
// consumer always sees the freshest frame instead of a growing queue.
package capture

import (
	"image"
	"sync/atomic"
	"time"
)

// Frame is one captured image with its sequence number and grab time.
// A frame can be shared between holders via Retain; the underlying
// buffer returns to its source only when the last holder releases.
type Frame struct {
	Seq     uint64
	Image   image.Image
	Grabbed time.Time

	refs    atomic.Int32
	release func()
}

// NewFrame wraps a captured image with a single reference held by the
// caller. release, if non-nil, returns the underlying buffer to its
// source once every holder has released.
func NewFrame(seq uint64, img image.Image, grabbed time.Time, release func()) *Frame {
	f := &Frame{
		Seq:     seq,
		Image:   img,
		Grabbed: grabbed,
		release: release,
	}
	f.refs.Store(1)
	return f
}

// Retain adds a holder. Every holder must call Release exactly once.
func (f *Frame) Retain() *Frame {
	f.refs.Add(1)
	return f
}

// Release drops one holder's reference; the last release returns the
// buffer to its source. Extra releases are ignored.
func (f *Frame) Release() {
	if f.refs.Add(-1) == 0 && f.release != nil {
		f.release()
	}
}
