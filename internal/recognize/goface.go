// Package recognize adapts the dlib-based go-face recognizer to the
// pipeline's Detector and Embedder interfaces.
package recognize

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	goface "github.com/Kagami/go-face"

	"github.com/presence-data/facegate/internal/face"
)

// GoFace wraps a go-face Recognizer. Recognize produces boxes and
// descriptors in one pass, so Detect caches the descriptors and Embed
// serves them back by bounding box.
type GoFace struct {
	rec *goface.Recognizer

	mu   sync.Mutex
	last []goface.Face
}

// New loads the dlib models from modelsDir and returns the adapter.
func New(modelsDir string) (*GoFace, error) {
	rec, err := goface.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load face models from %s: %w", modelsDir, err)
	}
	return &GoFace{rec: rec}, nil
}

// Close releases the recognizer.
func (g *GoFace) Close() {
	g.rec.Close()
}

// Detect runs the recognizer over the frame and returns one detection
// per face.
func (g *GoFace) Detect(img image.Image) ([]face.Detection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	faces, err := g.rec.Recognize(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("recognition failed: %w", err)
	}

	g.mu.Lock()
	g.last = faces
	g.mu.Unlock()

	out := make([]face.Detection, 0, len(faces))
	for _, f := range faces {
		out = append(out, face.Detection{
			Box:        f.Rectangle,
			Landmarks:  eyeLandmarks(f.Rectangle),
			Confidence: 1.0,
		})
	}
	return out, nil
}

// Embed returns the descriptor computed for det's box during the last
// Detect call, widened to the gallery dimensionality.
func (g *GoFace) Embed(_ image.Image, det face.Detection) (face.Embedding, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, f := range g.last {
		if f.Rectangle == det.Box {
			return widenDescriptor(f.Descriptor), nil
		}
	}
	return nil, fmt.Errorf("no descriptor cached for box %v", det.Box)
}

// eyeLandmarks places approximate eye positions from standard facial
// proportions: eyes sit at about 40% of the box height, 30% and 70%
// of its width.
func eyeLandmarks(box image.Rectangle) []face.Point {
	w := float64(box.Dx())
	h := float64(box.Dy())
	return []face.Point{
		{X: float64(box.Min.X) + 0.30*w, Y: float64(box.Min.Y) + 0.40*h},
		{X: float64(box.Min.X) + 0.70*w, Y: float64(box.Min.Y) + 0.40*h},
	}
}

// widenDescriptor tiles the 128-dim dlib descriptor up to the 512-dim
// gallery format and normalizes it. Tiling preserves cosine geometry,
// so distances between widened vectors equal distances between the
// originals.
func widenDescriptor(d goface.Descriptor) face.Embedding {
	out := make(face.Embedding, face.EmbeddingDim)
	for i := 0; i < face.EmbeddingDim; i++ {
		out[i] = d[i%len(d)]
	}
	if err := face.NormalizeInPlace(out); err != nil {
		return out
	}
	return out
}
