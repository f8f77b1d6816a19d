// Package face implements the authentication pipeline: identity matching
// against an embedding gallery, liveness analysis over frame sequences,
// presentation-attack screening, and the orchestrating frame processor.
package face

import (
	"image"
	"time"
)

// EmbeddingDim is the dimensionality of face embedding vectors.
const EmbeddingDim = 512

// Embedding is a face feature vector. Producers are expected to emit
// unit-normalized vectors; NormalizeInPlace repairs ones that are not.
type Embedding []float32

// Point is a 2D landmark coordinate in frame pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is a single face found in a frame by the detector.
type Detection struct {
	// Box is the face bounding box in frame coordinates.
	Box image.Rectangle

	// Landmarks are the 5-point facial landmarks: left eye, right eye,
	// nose tip, left mouth corner, right mouth corner.
	Landmarks []Point

	// Confidence is the detector's score for this face in [0,1].
	Confidence float64
}

// Center returns the midpoint of the detection box.
func (d Detection) Center() Point {
	return Point{
		X: float64(d.Box.Min.X+d.Box.Max.X) / 2,
		Y: float64(d.Box.Min.Y+d.Box.Max.Y) / 2,
	}
}

// Area returns the box area in square pixels.
func (d Detection) Area() int {
	return d.Box.Dx() * d.Box.Dy()
}

// Identity is an enrolled person in the gallery.
type Identity struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GalleryEntry is one enrolled embedding together with the identity it
// belongs to. The matcher's exact-scan path iterates these directly.
type GalleryEntry struct {
	EmbeddingID int64
	IdentityID  int64
	Vector      Embedding
}

// MatchResult is the outcome of matching a probe embedding against the
// gallery.
type MatchResult struct {
	// Identity is the best-matching enrolled identity, nil when no
	// candidate fell under the match threshold.
	Identity *Identity `json:"identity,omitempty"`

	// Distance is the cosine distance to the best candidate, in [0,2].
	// Only meaningful when a candidate was found at all.
	Distance float64 `json:"distance"`

	// Matched reports whether Distance is at or under the match threshold.
	Matched bool `json:"matched"`

	// HighConfidence reports whether Distance is at or under the
	// high-confidence threshold. Implies Matched.
	HighConfidence bool `json:"high_confidence"`

	// Similarity is the cosine similarity (1 - Distance) for display.
	Similarity float64 `json:"similarity"`
}

// StageTimings records per-stage wall-clock durations for one frame.
type StageTimings struct {
	Detect   time.Duration `json:"detect"`
	Embed    time.Duration `json:"embed"`
	Match    time.Duration `json:"match"`
	Liveness time.Duration `json:"liveness"`
	Spoof    time.Duration `json:"spoof"`
	Total    time.Duration `json:"total"`
}

// FrameResult is the per-face outcome of processing one frame.
type FrameResult struct {
	FrameSeq  uint64          `json:"frame_seq"`
	Timestamp time.Time       `json:"timestamp"`
	Box       image.Rectangle `json:"box"`
	Match     MatchResult     `json:"match"`
	Liveness  Status          `json:"liveness"`
	Spoof     SpoofVerdict    `json:"spoof"`

	// Authenticated is the final gate: matched identity, confirmed
	// liveness, and no spoof flag.
	Authenticated bool `json:"authenticated"`

	// Degraded marks a face whose processing hit a recoverable error.
	Degraded bool `json:"degraded"`

	Timings StageTimings `json:"timings"`
}
