package face

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSpoofModel struct {
	scores   [3]float32
	err      error
	lastCrop image.Image
}

func (m *fakeSpoofModel) Classify(crop image.Image) ([3]float32, error) {
	m.lastCrop = crop
	return m.scores, m.err
}

func testFrame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 640, 480))
}

func centeredDetection() Detection {
	return Detection{Box: image.Rect(270, 190, 370, 290)}
}

func TestSpoofPassesProbabilitiesThrough(t *testing.T) {
	t.Parallel()

	model := &fakeSpoofModel{scores: [3]float32{0.15, 0.8, 0.05}}
	a := NewSpoofAdapter(model, 0.5, 1.5)

	v := a.Check(testFrame(), centeredDetection())
	assert.False(t, v.Flagged)
	assert.False(t, v.Degraded)
	assert.InDelta(t, 0.8, v.RealProb, 1e-6)
}

func TestSpoofSoftmaxesLogits(t *testing.T) {
	t.Parallel()

	model := &fakeSpoofModel{scores: [3]float32{0, 2, 0}}
	a := NewSpoofAdapter(model, 0.5, 1.5)

	v := a.Check(testFrame(), centeredDetection())
	want := math.Exp(2) / (2*math.Exp(0) + math.Exp(2))
	assert.InDelta(t, want, v.RealProb, 1e-6)
	assert.False(t, v.Flagged)
}

func TestSpoofFlagsLowRealProbability(t *testing.T) {
	t.Parallel()

	model := &fakeSpoofModel{scores: [3]float32{0.7, 0.1, 0.2}}
	a := NewSpoofAdapter(model, 0.5, 1.5)

	v := a.Check(testFrame(), centeredDetection())
	assert.True(t, v.Flagged)
	assert.False(t, v.Degraded)
	assert.InDelta(t, 0.1, v.RealProb, 1e-6)
}

func TestSpoofRealClassIsMiddle(t *testing.T) {
	t.Parallel()

	// a replay attack puts its mass on the last class; the middle class
	// is the only one that counts as genuine
	model := &fakeSpoofModel{scores: [3]float32{0.05, 0.1, 0.85}}
	a := NewSpoofAdapter(model, 0.5, 1.5)

	v := a.Check(testFrame(), centeredDetection())
	assert.True(t, v.Flagged)
	assert.InDelta(t, 0.1, v.RealProb, 1e-6)
}

func TestSpoofFailsOpenOnModelError(t *testing.T) {
	t.Parallel()

	model := &fakeSpoofModel{err: errors.New("model not loaded")}
	a := NewSpoofAdapter(model, 0.5, 1.5)

	v := a.Check(testFrame(), centeredDetection())
	assert.True(t, v.Degraded)
	assert.False(t, v.Flagged)
}

func TestSpoofCropSizeAndClamp(t *testing.T) {
	t.Parallel()

	model := &fakeSpoofModel{scores: [3]float32{0.05, 0.9, 0.05}}
	a := NewSpoofAdapter(model, 0.5, 1.5)

	// box hugging the frame corner; the expanded region clamps instead
	// of failing
	v := a.Check(testFrame(), Detection{Box: image.Rect(0, 0, 60, 60)})
	assert.False(t, v.Degraded)
	require.NotNil(t, model.lastCrop)
	assert.Equal(t, image.Rect(0, 0, 80, 80), model.lastCrop.Bounds())
}

func TestSpoofDegradesOnEmptyRegion(t *testing.T) {
	t.Parallel()

	model := &fakeSpoofModel{scores: [3]float32{0.05, 0.9, 0.05}}
	a := NewSpoofAdapter(model, 0.5, 1.5)

	// box entirely outside the frame
	v := a.Check(testFrame(), Detection{Box: image.Rect(700, 500, 760, 560)})
	assert.True(t, v.Degraded)
	assert.False(t, v.Flagged)
	assert.Nil(t, model.lastCrop)
}
