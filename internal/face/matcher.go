package face

import (
	"errors"
	"fmt"
	"sync"

	"github.com/presence-data/facegate/internal/face/index"
	"github.com/presence-data/facegate/internal/monitoring"
)

// Gallery supplies the enrolled identities and embeddings the matcher
// searches. Implemented by db.IdentityStore.
type Gallery interface {
	ActiveIdentities() (map[int64]Identity, error)
	ActiveEmbeddings() ([]GalleryEntry, error)
}

// searchStrategy selects how the matcher scans the gallery.
type searchStrategy int

const (
	searchIndexed searchStrategy = iota
	searchExact
)

// MatcherConfig holds the matching thresholds.
type MatcherConfig struct {
	// MatchThreshold is the maximum cosine distance for a match.
	MatchThreshold float64

	// HighConfidenceThreshold marks matches close enough to skip
	// secondary checks. Must not exceed MatchThreshold.
	HighConfidenceThreshold float64

	// Candidates is how many neighbours the index path retrieves.
	Candidates int
}

// Matcher matches probe embeddings against the enrolled gallery. It
// prefers the nearest-neighbour index and falls back permanently to an
// exact linear scan after the first index failure. The degrade is one
// way: a flaky index is worse than a slow scan.
type Matcher struct {
	cfg     MatcherConfig
	gallery Gallery

	mu         sync.RWMutex
	strategy   searchStrategy
	idx        index.Index
	entries    []GalleryEntry
	identities map[int64]Identity
	byKey      map[int64]GalleryEntry
}

// NewMatcher creates a matcher over gallery using idx for the
// approximate path; with no index it starts on the exact scan. Call
// Reload before the first Match.
func NewMatcher(gallery Gallery, idx index.Index, cfg MatcherConfig) (*Matcher, error) {
	if cfg.HighConfidenceThreshold > cfg.MatchThreshold {
		return nil, fmt.Errorf("high confidence threshold %.3f exceeds match threshold %.3f",
			cfg.HighConfidenceThreshold, cfg.MatchThreshold)
	}
	if cfg.Candidates <= 0 {
		return nil, fmt.Errorf("candidate count must be positive, got %d", cfg.Candidates)
	}

	strategy := searchIndexed
	if idx == nil {
		monitoring.Logf("matcher: no index available, using exact scan")
		strategy = searchExact
	}

	return &Matcher{
		cfg:        cfg,
		gallery:    gallery,
		strategy:   strategy,
		idx:        idx,
		identities: make(map[int64]Identity),
		byKey:      make(map[int64]GalleryEntry),
	}, nil
}

// Reload pulls the current gallery from storage and rebuilds the index.
// A previous degrade to exact scan is not undone.
func (m *Matcher) Reload() error {
	identities, err := m.gallery.ActiveIdentities()
	if err != nil {
		return fmt.Errorf("failed to load identities: %w", err)
	}
	entries, err := m.gallery.ActiveEmbeddings()
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.identities = identities
	m.entries = entries
	m.byKey = make(map[int64]GalleryEntry, len(entries))
	for _, e := range entries {
		m.byKey[e.EmbeddingID] = e
	}

	if m.strategy == searchIndexed {
		for _, e := range entries {
			if err := m.idx.Add(e.EmbeddingID, e.Vector); err != nil {
				monitoring.Logf("matcher: index rebuild failed (%v), degrading to exact scan", err)
				m.strategy = searchExact
				break
			}
		}
	}

	return nil
}

// Match finds the closest enrolled identity to the probe.
func (m *Matcher) Match(probe Embedding) (MatchResult, error) {
	if len(probe) != EmbeddingDim {
		return MatchResult{}, fmt.Errorf("probe has %d dimensions, want %d", len(probe), EmbeddingDim)
	}

	m.mu.RLock()
	strategy := m.strategy
	empty := len(m.entries) == 0
	m.mu.RUnlock()

	if empty {
		return MatchResult{}, nil
	}

	if strategy == searchIndexed {
		res, err := m.matchIndexed(probe)
		if err == nil {
			return res, nil
		}
		monitoring.Logf("matcher: index search failed (%v), degrading to exact scan", err)
		m.mu.Lock()
		m.strategy = searchExact
		m.mu.Unlock()
	}

	return m.matchExact(probe)
}

// Degraded reports whether the matcher has fallen back to exact scan.
func (m *Matcher) Degraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.strategy == searchExact
}

func (m *Matcher) matchIndexed(probe Embedding) (MatchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits, err := m.idx.Search(probe, m.cfg.Candidates)
	if err != nil {
		if errors.Is(err, index.ErrEmpty) {
			return MatchResult{}, nil
		}
		return MatchResult{}, err
	}

	for _, hit := range hits {
		entry, ok := m.byKey[hit.Key]
		if !ok {
			// stale index entry, skip
			continue
		}
		if _, ok := m.identities[entry.IdentityID]; !ok {
			continue
		}
		return m.resultFor(entry, hit.Distance), nil
	}

	return MatchResult{}, nil
}

func (m *Matcher) matchExact(probe Embedding) (MatchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bestDist := -1.0
	var best GalleryEntry
	for _, entry := range m.entries {
		d, err := CosineDistance(probe, entry.Vector)
		if err != nil {
			return MatchResult{}, fmt.Errorf("failed to compare embedding %d: %w", entry.EmbeddingID, err)
		}
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = entry
		}
	}
	if bestDist < 0 {
		return MatchResult{}, nil
	}

	return m.resultFor(best, bestDist), nil
}

// resultFor builds the MatchResult for the winning entry. Caller holds
// at least a read lock.
func (m *Matcher) resultFor(entry GalleryEntry, dist float64) MatchResult {
	res := MatchResult{
		Distance:   dist,
		Similarity: 1.0 - dist,
		Matched:    dist <= m.cfg.MatchThreshold,
	}
	res.HighConfidence = res.Matched && dist <= m.cfg.HighConfidenceThreshold
	if res.Matched {
		if ident, ok := m.identities[entry.IdentityID]; ok {
			identCopy := ident
			res.Identity = &identCopy
		}
	}
	return res
}
