package face

import "image"

// Detector finds faces in a frame. Implementations wrap an external
// detection model; the pipeline only depends on this interface.
type Detector interface {
	Detect(img image.Image) ([]Detection, error)
}

// Embedder produces a feature vector for a detected face crop.
type Embedder interface {
	Embed(img image.Image, det Detection) (Embedding, error)
}

// SpoofModel classifies a prepared face crop against the three
// anti-spoof classes: print attack, genuine, replay attack. The
// returned scores are either raw logits or probabilities; the genuine
// class is the middle one.
type SpoofModel interface {
	Classify(crop image.Image) ([3]float32, error)
}
