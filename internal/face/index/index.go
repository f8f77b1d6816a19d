// Package index provides approximate nearest-neighbour search over
// face embeddings. The Index interface keeps the matcher decoupled
// from the search backend; Memory is a flat in-process implementation.
package index

import "errors"

// ErrEmpty is returned by Search when the index holds no vectors.
var ErrEmpty = errors.New("index: no vectors")

// Candidate is one search hit: the stored key and its cosine distance
// to the query.
type Candidate struct {
	Key      int64
	Distance float64
}

// Index is a nearest-neighbour index over unit-normalized vectors
// keyed by int64.
type Index interface {
	// Add inserts a vector under key. Re-adding a key replaces the
	// previous vector.
	Add(key int64, vec []float32) error

	// Remove deletes a key. Removing an absent key is a no-op.
	Remove(key int64)

	// Search returns up to k candidates ordered by ascending distance.
	Search(query []float32, k int) ([]Candidate, error)

	// Len reports the number of stored vectors.
	Len() int
}
