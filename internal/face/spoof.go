package face

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/presence-data/facegate/internal/monitoring"
)

// spoofInputSize is the square input resolution the spoof model expects.
const spoofInputSize = 80

// realClassIndex is the genuine class in the model's three-class
// output, between the print and replay attack classes.
const realClassIndex = 1

// SpoofVerdict is the presentation-attack screen result for one face.
type SpoofVerdict struct {
	// Flagged marks the face as a likely presentation attack.
	Flagged bool `json:"flagged"`

	// RealProb is the model's probability that the face is genuine.
	RealProb float64 `json:"real_prob"`

	// Degraded means the screen could not run and the face passed
	// unchecked. The screen fails open: a broken model must not lock
	// every user out, and liveness still stands between a spoof and a
	// grant.
	Degraded bool `json:"degraded"`
}

// SpoofAdapter prepares face crops and runs them through a
// three-class anti-spoofing classifier.
type SpoofAdapter struct {
	model SpoofModel

	// RealThreshold is the minimum real-class probability to pass.
	RealThreshold float64

	// CropScale expands the detection box before cropping so the model
	// sees some surrounding context.
	CropScale float64
}

// NewSpoofAdapter creates an adapter around model.
func NewSpoofAdapter(model SpoofModel, realThreshold, cropScale float64) *SpoofAdapter {
	return &SpoofAdapter{
		model:         model,
		RealThreshold: realThreshold,
		CropScale:     cropScale,
	}
}

// Check screens one detected face. All failures degrade to an
// unflagged verdict.
func (a *SpoofAdapter) Check(frame image.Image, det Detection) SpoofVerdict {
	crop := a.prepareCrop(frame, det)
	if crop == nil {
		monitoring.Logf("spoof: degenerate crop for box %v, passing unchecked", det.Box)
		return SpoofVerdict{Degraded: true}
	}

	scores, err := a.model.Classify(crop)
	if err != nil {
		monitoring.Logf("spoof: classifier failed (%v), passing unchecked", err)
		return SpoofVerdict{Degraded: true}
	}

	probs := asProbabilities(scores)
	realProb := probs[realClassIndex]

	return SpoofVerdict{
		Flagged:  realProb < a.RealThreshold,
		RealProb: realProb,
	}
}

// prepareCrop expands the detection box by CropScale, clamps it to the
// frame, and resizes the crop to the model input size. Returns nil
// when the clamped region is empty.
func (a *SpoofAdapter) prepareCrop(frame image.Image, det Detection) image.Image {
	scale := a.CropScale
	if scale < 1 {
		scale = 1
	}

	cx := float64(det.Box.Min.X+det.Box.Max.X) / 2
	cy := float64(det.Box.Min.Y+det.Box.Max.Y) / 2
	halfW := float64(det.Box.Dx()) * scale / 2
	halfH := float64(det.Box.Dy()) * scale / 2

	region := image.Rect(
		int(cx-halfW), int(cy-halfH),
		int(cx+halfW), int(cy+halfH),
	).Intersect(frame.Bounds())
	if region.Empty() {
		return nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, spoofInputSize, spoofInputSize))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, region, draw.Src, nil)
	return dst
}

// asProbabilities normalizes the class scores. Scores that already
// form a probability distribution pass through; anything else is
// treated as logits and run through softmax.
func asProbabilities(scores [3]float32) [3]float64 {
	var out [3]float64
	sum := 0.0
	nonNegative := true
	for i, s := range scores {
		out[i] = float64(s)
		sum += out[i]
		if out[i] < 0 {
			nonNegative = false
		}
	}
	if nonNegative && math.Abs(sum-1.0) < 1e-3 {
		return out
	}

	// softmax with max subtraction
	m := math.Max(out[0], math.Max(out[1], out[2]))
	z := 0.0
	for i := range out {
		out[i] = math.Exp(out[i] - m)
		z += out[i]
	}
	for i := range out {
		out[i] /= z
	}
	return out
}
