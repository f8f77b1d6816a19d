package face

import (
	"fmt"
	"image"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/presence-data/facegate/internal/config"
	"github.com/presence-data/facegate/internal/monitoring"
	"github.com/presence-data/facegate/internal/timeutil"
)

// PipelineConfig holds the frame-level gates of the pipeline.
type PipelineConfig struct {
	// BrightnessMin and SharpnessMin gate whole frames before any face
	// work happens.
	BrightnessMin float64
	SharpnessMin  float64
}

// PipelineConfigFromTuning builds a PipelineConfig from the tuning file.
func PipelineConfigFromTuning(cfg *config.TuningConfig) PipelineConfig {
	return PipelineConfig{
		BrightnessMin: cfg.GetQualityBrightnessMin(),
		SharpnessMin:  cfg.GetQualitySharpnessMin(),
	}
}

// Pipeline runs the full authentication pass over a frame: quality
// gate, detection, embedding, gallery match, liveness update, and
// spoof screen. One pass runs at a time; a frame arriving while a pass
// is in flight is dropped and the previous results stand.
type Pipeline struct {
	cfg      PipelineConfig
	detector Detector
	embedder Embedder
	matcher  *Matcher
	engine   *Engine
	spoof    *SpoofAdapter
	pub      *Publisher
	audit    *AuditSink
	clock    timeutil.Clock

	busy atomic.Bool

	mu      sync.RWMutex
	results []FrameResult

	Stats *PassStats
}

// NewPipeline wires the processing stages together. The audit sink may
// be nil when no persistence is configured.
func NewPipeline(cfg PipelineConfig, detector Detector, embedder Embedder,
	matcher *Matcher, engine *Engine, spoof *SpoofAdapter,
	pub *Publisher, audit *AuditSink, clock timeutil.Clock) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		detector: detector,
		embedder: embedder,
		matcher:  matcher,
		engine:   engine,
		spoof:    spoof,
		pub:      pub,
		audit:    audit,
		clock:    clock,
		Stats:    NewPassStats(),
	}
}

// Process runs one authentication pass over the frame. When a pass is
// already in flight the frame is dropped and the last completed
// results are returned unchanged. Returns true when the frame was
// actually processed.
func (p *Pipeline) Process(frameSeq uint64, img image.Image) ([]FrameResult, bool) {
	if !p.busy.CompareAndSwap(false, true) {
		p.Stats.AddSkippedBusy()
		return p.Results(), false
	}
	defer p.busy.Store(false)

	defer func() {
		if r := recover(); r != nil {
			p.reportError(fmt.Sprintf("pipeline: frame %d", frameSeq), fmt.Errorf("panic: %v", r))
		}
	}()

	results := p.processLocked(frameSeq, img)
	return results, true
}

// Results returns a copy of the last completed frame's results.
// Callers own the returned slice.
func (p *Pipeline) Results() []FrameResult {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]FrameResult, len(p.results))
	copy(out, p.results)
	return out
}

func (p *Pipeline) processLocked(frameSeq uint64, img image.Image) []FrameResult {
	start := p.clock.Now()

	quality := AssessQuality(img)
	if quality.Brightness < p.cfg.BrightnessMin || quality.Sharpness < p.cfg.SharpnessMin {
		// too dark or too blurred to trust any stage; leave liveness
		// evidence and published results untouched
		p.Stats.AddQualityRejected()
		return p.Results()
	}

	detectStart := p.clock.Now()
	detections, err := p.detector.Detect(img)
	detectDur := p.clock.Since(detectStart)
	if err != nil {
		p.reportError(fmt.Sprintf("pipeline: detection on frame %d", frameSeq), err)
		p.Stats.AddDegraded()
		return p.Results()
	}

	if len(detections) == 0 {
		p.engine.NoFace()
		p.Stats.AddNoFace()
		p.commit(nil)
		return nil
	}

	// largest face is the subject; others are bystanders
	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Area() > detections[j].Area()
	})

	results := make([]FrameResult, 0, len(detections))
	for i, det := range detections {
		res := p.processFace(frameSeq, img, det, i == 0)
		res.Timings.Detect = detectDur
		res.Timings.Total = p.clock.Since(start)
		results = append(results, res)
	}

	p.Stats.AddProcessed(len(results))
	p.commit(results)

	if p.audit != nil {
		for _, res := range results {
			p.audit.Submit(NewAuthEvent(res, ""))
		}
	}

	return p.Results()
}

// reportError routes a stage fault onto the result bus, where it is
// logged and exposed to error subscribers.
func (p *Pipeline) reportError(context string, err error) {
	if p.pub != nil {
		p.pub.ReportError(context, err)
		return
	}
	monitoring.Logf("%s: %v", context, err)
}

// processFace runs the per-face stages. Only the primary face feeds
// the liveness engine, and only when the spoof screen did not flag it;
// a flagged face must not bank blink or movement evidence for a live
// face to inherit. A panic in any stage degrades that face instead of
// killing the pass.
func (p *Pipeline) processFace(frameSeq uint64, img image.Image, det Detection, primary bool) (res FrameResult) {
	res = FrameResult{
		FrameSeq:  frameSeq,
		Timestamp: p.clock.Now(),
		Box:       det.Box,
	}
	if primary {
		res.Liveness = p.engine.Status()
	} else {
		res.Liveness = Status{State: LivenessPending}
	}

	defer func() {
		if r := recover(); r != nil {
			p.reportError(fmt.Sprintf("pipeline: face %v on frame %d", det.Box, frameSeq), fmt.Errorf("panic: %v", r))
			res.Degraded = true
			res.Authenticated = false
			p.Stats.AddDegraded()
		}
	}()

	t := p.clock.Now()
	embedding, err := p.embedder.Embed(img, det)
	res.Timings.Embed = p.clock.Since(t)
	if err != nil {
		p.reportError(fmt.Sprintf("pipeline: embedding face %v on frame %d", det.Box, frameSeq), err)
		res.Degraded = true
		p.Stats.AddDegraded()
		return res
	}

	t = p.clock.Now()
	match, err := p.matcher.Match(embedding)
	res.Timings.Match = p.clock.Since(t)
	if err != nil {
		p.reportError(fmt.Sprintf("pipeline: matching face %v on frame %d", det.Box, frameSeq), err)
		res.Degraded = true
		p.Stats.AddDegraded()
		return res
	}
	res.Match = match

	t = p.clock.Now()
	res.Spoof = p.spoof.Check(img, det)
	res.Timings.Spoof = p.clock.Since(t)

	if primary {
		if res.Spoof.Flagged {
			res.Liveness = Status{State: LivenessPending, Detail: "spoof flagged"}
		} else {
			t = p.clock.Now()
			res.Liveness = p.engine.Update(Observation{
				Embedding:   embedding,
				EyeOpenness: estimateEyeOpenness(img, det),
				Center:      det.Center(),
				Texture:     AnalyzeTexture(crop(img, det.Box)),
			})
			res.Timings.Liveness = p.clock.Since(t)
		}
	}

	res.Authenticated = res.Match.Matched &&
		res.Liveness.State == LivenessConfirmed &&
		!res.Spoof.Flagged
	if res.Authenticated {
		p.Stats.AddAuthenticated()
	}

	return res
}

// commit stores results as the latest snapshot and publishes them.
func (p *Pipeline) commit(results []FrameResult) {
	p.mu.Lock()
	p.results = results
	p.mu.Unlock()

	if p.pub != nil {
		p.pub.Publish(results)
	}
}

// crop returns the sub-image of img covered by r, clamped to the
// frame.
func crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}

	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			dst.Set(x, y, img.At(r.Min.X+x, r.Min.Y+y))
		}
	}
	return dst
}
