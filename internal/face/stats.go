package face

import (
	"sync"
	"time"

	"github.com/presence-data/facegate/internal/monitoring"
)

// PassStats tracks frame processing statistics with thread-safe operations
type PassStats struct {
	mu              sync.Mutex
	processed       int64
	skippedBusy     int64
	qualityRejected int64
	noFace          int64
	faces           int64
	authenticated   int64
	degraded        int64
	lastReset       time.Time
}

// NewPassStats creates a new PassStats instance
func NewPassStats() *PassStats {
	return &PassStats{
		lastReset: time.Now(),
	}
}

// AddProcessed increments the processed frame count by the number of faces seen
func (ps *PassStats) AddProcessed(faces int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.processed++
	ps.faces += int64(faces)
}

// AddSkippedBusy increments the count of frames dropped by the re-entrancy guard
func (ps *PassStats) AddSkippedBusy() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.skippedBusy++
}

// AddQualityRejected increments the count of frames rejected by the quality gate
func (ps *PassStats) AddQualityRejected() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.qualityRejected++
}

// AddNoFace increments the count of frames with no detectable face
func (ps *PassStats) AddNoFace() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.noFace++
}

// AddAuthenticated increments the count of fully authenticated results
func (ps *PassStats) AddAuthenticated() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.authenticated++
}

// AddDegraded increments the count of faces whose processing hit an error
func (ps *PassStats) AddDegraded() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.degraded++
}

// GetAndReset returns current stats and resets counters
func (ps *PassStats) GetAndReset() (processed, skippedBusy, qualityRejected, noFace, faces, authenticated, degraded int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ps.lastReset)
	processed = ps.processed
	skippedBusy = ps.skippedBusy
	qualityRejected = ps.qualityRejected
	noFace = ps.noFace
	faces = ps.faces
	authenticated = ps.authenticated
	degraded = ps.degraded

	ps.processed = 0
	ps.skippedBusy = 0
	ps.qualityRejected = 0
	ps.noFace = 0
	ps.faces = 0
	ps.authenticated = 0
	ps.degraded = 0
	ps.lastReset = now

	return
}

// LogStats logs a one-line summary and resets the counters
func (ps *PassStats) LogStats() {
	processed, skippedBusy, qualityRejected, noFace, faces, authenticated, degraded, duration := ps.GetAndReset()
	if processed == 0 && skippedBusy == 0 {
		return
	}
	monitoring.Logf("pipeline: %d frames, %d faces in %.1fs (%d busy-skipped, %d low-quality, %d no-face, %d authenticated, %d degraded)",
		processed, faces, duration.Seconds(), skippedBusy, qualityRejected, noFace, authenticated, degraded)
}
