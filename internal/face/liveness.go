package face

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/presence-data/facegate/internal/config"
	"github.com/presence-data/facegate/internal/monitoring"
	"github.com/presence-data/facegate/internal/timeutil"
)

// LivenessState is the confirmation state of the liveness engine.
type LivenessState string

const (
	// LivenessPending means not all liveness signals are satisfied yet.
	LivenessPending LivenessState = "pending"

	// LivenessConfirmed means the subject has demonstrated liveness.
	LivenessConfirmed LivenessState = "confirmed"
)

// minMovementSamples is how many face centers must accumulate before
// the movement signal is evaluated; with fewer samples the check
// passes for lack of evidence.
const minMovementSamples = 10

// TextureMetrics are the per-frame surface statistics of a face crop.
// Flat texture, washed-out color, or strong specular highlights are
// characteristic of a photo or screen held up to the camera.
type TextureMetrics struct {
	LaplacianVariance float64
	ColorStddev       float64
	SpecularRatio     float64
	MeanLuminance     float64
}

// Observation is one frame's worth of liveness evidence for the
// primary face.
type Observation struct {
	Embedding   Embedding
	EyeOpenness float64
	Center      Point
	Texture     TextureMetrics
}

// Status is a snapshot of the engine state after an update.
type Status struct {
	State  LivenessState `json:"state"`
	Detail string        `json:"detail,omitempty"`

	Blinks      int       `json:"blinks"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// EngineConfig holds the liveness thresholds.
type EngineConfig struct {
	MinBlinks          int
	BlinkMinFrames     int
	BlinkMaxFrames     int
	BlinkCVFloor       float64
	EyeClosedThreshold float64

	MovementWindow      int
	MovementMinStddevPx float64

	LaplacianVarianceFloor float64
	ColorStddevFloor       float64
	SpecularRatioMax       float64
	TextureFailConsecutive int

	Expiry                 time.Duration
	IdentityChangeDistance float64
	NoFaceResetFrames      int
}

// EngineConfigFromTuning builds an EngineConfig from the tuning file.
func EngineConfigFromTuning(cfg *config.TuningConfig) EngineConfig {
	return EngineConfig{
		MinBlinks:          cfg.GetMinBlinks(),
		BlinkMinFrames:     cfg.GetBlinkMinFrames(),
		BlinkMaxFrames:     cfg.GetBlinkMaxFrames(),
		BlinkCVFloor:       cfg.GetBlinkCVFloor(),
		EyeClosedThreshold: cfg.GetEyeClosedThreshold(),

		MovementWindow:      cfg.GetMovementWindow(),
		MovementMinStddevPx: cfg.GetMovementMinStddevPx(),

		LaplacianVarianceFloor: cfg.GetTextureSharpnessFloor(),
		ColorStddevFloor:       cfg.GetTextureColorStddevFloor(),
		SpecularRatioMax:       cfg.GetTextureSpecularCeiling(),
		TextureFailConsecutive: cfg.GetTextureFailConsecutive(),

		Expiry:                 cfg.GetLivenessExpiry(),
		IdentityChangeDistance: cfg.GetIdentityChangeDistance(),
		NoFaceResetFrames:      cfg.GetNoFaceResetFrames(),
	}
}

// Engine accumulates liveness evidence for a single subject across
// frames. Not safe for concurrent use; the pipeline serializes access.
type Engine struct {
	cfg   EngineConfig
	clock timeutil.Clock

	state       LivenessState
	confirmedAt time.Time

	frameCount uint64

	// blink tracking
	eyeClosed   bool
	closedRun   int
	blinkFrames []uint64

	// micro-movement ring buffer of recent face centers
	centers     []Point
	centerNext  int
	centerCount int

	// identity continuity reference: the first embedding of the session
	// while pending, rebased to the confirming frame's embedding once
	// confirmed
	refEmbedding Embedding

	// texture veto
	suspiciousRun int

	// why the last reset fired, shown in the pending detail until a
	// new blink lands
	resetReason string

	noFaceRun int
}

// NewEngine creates a liveness engine in the pending state.
func NewEngine(cfg EngineConfig, clock timeutil.Clock) *Engine {
	window := cfg.MovementWindow
	if window <= 0 {
		window = 1
	}
	return &Engine{
		cfg:     cfg,
		clock:   clock,
		state:   LivenessPending,
		centers: make([]Point, window),
	}
}

// Update ingests one frame's observation of the primary face and
// returns the resulting status.
func (e *Engine) Update(obs Observation) Status {
	e.noFaceRun = 0
	e.frameCount++

	if e.state == LivenessConfirmed && e.clock.Since(e.confirmedAt) > e.cfg.Expiry {
		e.Reset("confirmation expired")
		e.frameCount++
	}

	if e.refEmbedding != nil && len(obs.Embedding) == len(e.refEmbedding) {
		if d, err := CosineDistance(obs.Embedding, e.refEmbedding); err == nil && d > e.cfg.IdentityChangeDistance {
			e.Reset(fmt.Sprintf("identity changed (distance %.2f)", d))
			e.frameCount++
		}
	}
	if e.refEmbedding == nil && len(obs.Embedding) > 0 {
		e.refEmbedding = append(Embedding(nil), obs.Embedding...)
	}

	if e.textureSuspicious(obs.Texture) {
		e.suspiciousRun++
		if e.suspiciousRun >= e.cfg.TextureFailConsecutive {
			e.Reset("flat texture, possible presentation attack")
			return e.status()
		}
	} else {
		e.suspiciousRun = 0
	}

	e.trackBlink(obs.EyeOpenness)
	if len(e.blinkFrames) >= 3 && !e.blinkCadenceNatural() {
		e.Reset("blink cadence too regular")
		return e.status()
	}

	e.trackMovement(obs.Center)

	if e.state == LivenessPending && e.signalsSatisfied() {
		e.state = LivenessConfirmed
		e.confirmedAt = e.clock.Now()
		if len(obs.Embedding) > 0 {
			e.refEmbedding = append(Embedding(nil), obs.Embedding...)
		}
		monitoring.Logf("liveness: confirmed after %d frames, %d blinks", e.frameCount, len(e.blinkFrames))
	}

	return e.status()
}

// NoFace records a frame with no detectable face. A long enough run
// resets all accumulated evidence.
func (e *Engine) NoFace() Status {
	e.noFaceRun++
	if e.noFaceRun >= e.cfg.NoFaceResetFrames {
		run := e.noFaceRun
		e.Reset("face left the frame")
		e.noFaceRun = run
	}
	return e.status()
}

// Reset clears all accumulated evidence and returns to pending.
func (e *Engine) Reset(reason string) {
	if e.state == LivenessConfirmed || len(e.blinkFrames) > 0 {
		monitoring.Logf("liveness: reset (%s)", reason)
	}
	e.state = LivenessPending
	e.confirmedAt = time.Time{}
	e.frameCount = 0
	e.eyeClosed = false
	e.closedRun = 0
	e.blinkFrames = nil
	e.centerNext = 0
	e.centerCount = 0
	e.refEmbedding = nil
	e.suspiciousRun = 0
	e.noFaceRun = 0
	e.resetReason = reason
}

// Status reports the current state without ingesting a frame.
func (e *Engine) Status() Status {
	if e.state == LivenessConfirmed && e.clock.Since(e.confirmedAt) > e.cfg.Expiry {
		e.Reset("confirmation expired")
	}
	return e.status()
}

func (e *Engine) status() Status {
	s := Status{
		State:       e.state,
		Blinks:      len(e.blinkFrames),
		ConfirmedAt: e.confirmedAt,
	}
	if e.state == LivenessPending {
		s.Detail = e.pendingDetail()
	}
	return s
}

// pendingDetail names the veto that last fired, or the first
// unsatisfied signal.
func (e *Engine) pendingDetail() string {
	if e.resetReason != "" {
		return e.resetReason
	}
	if len(e.blinkFrames) < e.cfg.MinBlinks {
		return fmt.Sprintf("awaiting blinks (%d/%d)", len(e.blinkFrames), e.cfg.MinBlinks)
	}
	if !e.movementSufficient() {
		return "insufficient micro-movement"
	}
	return ""
}

func (e *Engine) signalsSatisfied() bool {
	return len(e.blinkFrames) >= e.cfg.MinBlinks && e.movementSufficient()
}

// trackBlink runs the eye open/closed edge detector. A blink is a
// closed run whose length falls inside the configured bounds; runs
// that are too short are noise, too long are closed eyes or a frozen
// image.
func (e *Engine) trackBlink(openness float64) {
	closed := openness < e.cfg.EyeClosedThreshold
	switch {
	case closed:
		e.closedRun++
		e.eyeClosed = true
	case e.eyeClosed:
		if e.closedRun >= e.cfg.BlinkMinFrames && e.closedRun <= e.cfg.BlinkMaxFrames {
			e.blinkFrames = append(e.blinkFrames, e.frameCount)
			e.resetReason = ""
		}
		e.closedRun = 0
		e.eyeClosed = false
	}
}

// blinkCadenceNatural checks the coefficient of variation of the
// intervals between blinks. A replayed video loops with near-constant
// cadence; human blinking is irregular. Only meaningful once at least
// two intervals exist.
func (e *Engine) blinkCadenceNatural() bool {
	if len(e.blinkFrames) < 3 {
		return true
	}
	intervals := make([]float64, 0, len(e.blinkFrames)-1)
	for i := 1; i < len(e.blinkFrames); i++ {
		intervals = append(intervals, float64(e.blinkFrames[i]-e.blinkFrames[i-1]))
	}
	mean, std := stat.MeanStdDev(intervals, nil)
	if mean == 0 {
		return false
	}
	return std/mean >= e.cfg.BlinkCVFloor
}

func (e *Engine) trackMovement(center Point) {
	e.centers[e.centerNext] = center
	e.centerNext = (e.centerNext + 1) % len(e.centers)
	if e.centerCount < len(e.centers) {
		e.centerCount++
	}
}

// movementSufficient checks the spatial spread of recent face centers.
// A printed photo on a stick still wobbles, but a tripod-mounted
// screen barely moves.
func (e *Engine) movementSufficient() bool {
	if e.centerCount < minMovementSamples {
		return true
	}
	xs := make([]float64, 0, e.centerCount)
	ys := make([]float64, 0, e.centerCount)
	for i := 0; i < e.centerCount; i++ {
		xs = append(xs, e.centers[i].X)
		ys = append(ys, e.centers[i].Y)
	}
	varX := stat.Variance(xs, nil)
	varY := stat.Variance(ys, nil)
	return math.Sqrt(varX+varY) >= e.cfg.MovementMinStddevPx
}

// textureSuspicious flags a frame as screen-like: blurred outright, or
// the screen signature of uniform lighting combined with a hot
// specular spot. Uniform color alone is not enough; evenly lit skin
// shows the same thing.
func (e *Engine) textureSuspicious(tm TextureMetrics) bool {
	if tm.LaplacianVariance < e.cfg.LaplacianVarianceFloor {
		return true
	}
	return tm.ColorStddev < e.cfg.ColorStddevFloor && tm.SpecularRatio > e.cfg.SpecularRatioMax
}
