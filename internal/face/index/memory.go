package index

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Memory is a flat in-memory index: exact search by brute force. It
// satisfies the Index contract for galleries small enough that a scan
// per query is cheap; a graph-based backend can replace it behind the
// same interface.
type Memory struct {
	mu   sync.RWMutex
	dim  int
	vecs map[int64][]float32
}

// NewMemory creates an empty index for vectors of the given
// dimensionality.
func NewMemory(dim int) *Memory {
	return &Memory{
		dim:  dim,
		vecs: make(map[int64][]float32),
	}
}

// Add inserts or replaces the vector stored under key.
func (m *Memory) Add(key int64, vec []float32) error {
	if len(vec) != m.dim {
		return fmt.Errorf("index: vector has %d dimensions, want %d", len(vec), m.dim)
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)

	m.mu.Lock()
	m.vecs[key] = stored
	m.mu.Unlock()
	return nil
}

// Remove deletes the vector stored under key, if any.
func (m *Memory) Remove(key int64) {
	m.mu.Lock()
	delete(m.vecs, key)
	m.mu.Unlock()
}

// Search scans all stored vectors and returns the k nearest by cosine
// distance, ascending.
func (m *Memory) Search(query []float32, k int) ([]Candidate, error) {
	if len(query) != m.dim {
		return nil, fmt.Errorf("index: query has %d dimensions, want %d", len(query), m.dim)
	}
	if k <= 0 {
		return nil, fmt.Errorf("index: k must be positive, got %d", k)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.vecs) == 0 {
		return nil, ErrEmpty
	}

	out := make([]Candidate, 0, len(m.vecs))
	for key, vec := range m.vecs {
		d, ok := cosineDistance(query, vec)
		if !ok {
			continue
		}
		out = append(out, Candidate{Key: key, Distance: d})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Len reports the number of stored vectors.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vecs)
}

func cosineDistance(a, b []float32) (float64, bool) {
	var dot, normA, normB float64
	for i := range a {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		normA += fa * fa
		normB += fb * fb
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	d := 1.0 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
	if d < 0 {
		d = 0
	}
	if d > 2 {
		d = 2
	}
	return d, true
}
