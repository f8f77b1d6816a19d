package capture

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// Source supplies frames from a camera or a substitute.
type Source interface {
	// Grab returns the next frame image. Blocking until a frame is
	// available is allowed.
	Grab() (image.Image, error)

	// Close releases the underlying device.
	Close() error
}

// SyntheticSource generates frames with a moving bright disc on a
// textured background. It stands in for a camera in dev mode and in
// tests.
type SyntheticSource struct {
	Width  int
	Height int

	frame  int
	closed bool
}

// NewSyntheticSource creates a source producing width x height frames.
func NewSyntheticSource(width, height int) *SyntheticSource {
	return &SyntheticSource{Width: width, Height: height}
}

// Grab renders the next synthetic frame.
func (s *SyntheticSource) Grab() (image.Image, error) {
	if s.closed {
		return nil, fmt.Errorf("synthetic source is closed")
	}
	s.frame++

	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))

	// noisy mid-gray background so quality and texture checks pass
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			v := uint8(100 + 40*((x*7+y*13+s.frame)%4))
			img.Set(x, y, color.RGBA{v, v - 10, v - 20, 255})
		}
	}

	// bright disc drifting in a small circle, a stand-in face
	cx := float64(s.Width)/2 + 8*math.Cos(float64(s.frame)/9)
	cy := float64(s.Height)/2 + 8*math.Sin(float64(s.frame)/7)
	r := float64(minInt(s.Width, s.Height)) / 5
	for y := int(cy - r); y <= int(cy+r); y++ {
		for x := int(cx - r); x <= int(cx+r); x++ {
			if x < 0 || x >= s.Width || y < 0 || y >= s.Height {
				continue
			}
			dx, dy := float64(x)-cx, float64(y)-cy
			if dx*dx+dy*dy <= r*r {
				v := uint8(180 + (x*3+y*5)%40)
				img.Set(x, y, color.RGBA{v, v - 30, v - 50, 255})
			}
		}
	}

	return img, nil
}

// Close marks the source closed; further Grab calls fail.
func (s *SyntheticSource) Close() error {
	s.closed = true
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
