package face

import (
	"fmt"
	"math"
)

// normTolerance is the allowed deviation from unit length before a
// vector is considered unnormalized.
const normTolerance = 1e-3

// L2Norm returns the Euclidean length of the vector.
func L2Norm(v Embedding) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// IsNormalized reports whether the vector is unit length within tolerance.
func IsNormalized(v Embedding) bool {
	return math.Abs(L2Norm(v)-1.0) <= normTolerance
}

// NormalizeInPlace scales the vector to unit length. Zero vectors are
// left untouched and reported as an error.
func NormalizeInPlace(v Embedding) error {
	n := L2Norm(v)
	if n == 0 {
		return fmt.Errorf("cannot normalize zero vector")
	}
	inv := float32(1.0 / n)
	for i := range v {
		v[i] *= inv
	}
	return nil
}

// CosineDistance returns 1 minus the cosine similarity of a and b,
// clamped to [0,2]. Identical directions give 0, opposite give 2.
func CosineDistance(a, b Embedding) (float64, error) {
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	d := 1.0 - sim
	if d < 0 {
		d = 0
	}
	if d > 2 {
		d = 2
	}
	return d, nil
}

// CosineSimilarity returns the cosine of the angle between a and b.
func CosineSimilarity(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("cannot compare empty vectors")
	}

	var dot, normA, normB float64
	for i := range a {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		normA += fa * fa
		normB += fb * fb
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("cannot compare zero vector")
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// ValidateEmbedding checks dimensionality and normalization of an
// embedding about to enter the gallery.
func ValidateEmbedding(v Embedding) error {
	if len(v) != EmbeddingDim {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(v), EmbeddingDim)
	}
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("embedding component %d is not finite", i)
		}
	}
	if !IsNormalized(v) {
		return fmt.Errorf("embedding is not unit-normalized (norm=%.4f)", L2Norm(v))
	}
	return nil
}
