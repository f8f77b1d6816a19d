package face

import (
	"errors"
	"image"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presence-data/facegate/internal/face/index"
	"github.com/presence-data/facegate/internal/timeutil"
)

type fakeDetector struct {
	dets []Detection
	err  error

	started chan struct{} // closed once Detect is entered, if set
	block   chan struct{} // Detect waits for this to close, if set
}

func (d *fakeDetector) Detect(image.Image) ([]Detection, error) {
	if d.started != nil {
		close(d.started)
		d.started = nil
	}
	if d.block != nil {
		<-d.block
	}
	return d.dets, d.err
}

type fakeEmbedder struct {
	emb Embedding
	err error
}

func (e *fakeEmbedder) Embed(image.Image, Detection) (Embedding, error) {
	return e.emb, e.err
}

func testPipelineConfig() PipelineConfig {
	return PipelineConfig{BrightnessMin: 40.0, SharpnessMin: 15.0}
}

func newTestPipeline(t *testing.T, detector Detector, embedder Embedder) *Pipeline {
	t.Helper()

	clock := timeutil.NewMockClock(time.Now())
	matcher := newTestMatcher(t, testGallery(), index.NewMemory(EmbeddingDim))
	engine := NewEngine(testEngineConfig(), clock)
	spoof := NewSpoofAdapter(&fakeSpoofModel{scores: [3]float32{0.05, 0.9, 0.05}}, 0.5, 1.5)

	return NewPipeline(testPipelineConfig(), detector, embedder, matcher, engine,
		spoof, NewPublisher(), nil, clock)
}

func goodFrame() image.Image {
	return noisyImage(160, 120)
}

func singleDetection() []Detection {
	return []Detection{{Box: image.Rect(40, 30, 120, 110), Confidence: 0.99}}
}

func TestPipelineMatchesEnrolledFace(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t,
		&fakeDetector{dets: singleDetection()},
		&fakeEmbedder{emb: unitVec(0)})

	results, processed := p.Process(1, goodFrame())
	assert.True(t, processed)
	require.Len(t, results, 1)

	res := results[0]
	assert.True(t, res.Match.Matched)
	assert.Equal(t, "alice", res.Match.Identity.Name)
	assert.False(t, res.Spoof.Flagged)
	assert.False(t, res.Degraded)

	// liveness evidence cannot exist after one frame
	assert.Equal(t, LivenessPending, res.Liveness.State)
	assert.False(t, res.Authenticated)
}

func TestPipelineReentrancyGuard(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	block := make(chan struct{})
	detector := &fakeDetector{dets: singleDetection(), started: started, block: block}
	p := newTestPipeline(t, detector, &fakeEmbedder{emb: unitVec(0)})

	done := make(chan []FrameResult, 1)
	go func() {
		results, _ := p.Process(1, goodFrame())
		done <- results
	}()

	<-started

	// a frame arriving mid-pass is dropped; the stale snapshot comes back
	results, processed := p.Process(2, goodFrame())
	assert.False(t, processed)
	assert.Empty(t, results)

	close(block)
	final := <-done
	require.Len(t, final, 1)
	assert.Equal(t, uint64(1), final[0].FrameSeq)

	_, skippedBusy, _, _, _, _, _, _ := p.Stats.GetAndReset()
	assert.Equal(t, int64(1), skippedBusy)
}

func TestPipelineQualityGate(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t,
		&fakeDetector{dets: singleDetection()},
		&fakeEmbedder{emb: unitVec(0)})

	// establish a previous snapshot
	prev, processed := p.Process(1, goodFrame())
	require.True(t, processed)
	require.Len(t, prev, 1)

	// a dark frame is rejected without touching the snapshot
	results, processed := p.Process(2, flatImage(160, 120, 10))
	assert.True(t, processed)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].FrameSeq)

	_, _, qualityRejected, _, _, _, _, _ := p.Stats.GetAndReset()
	assert.Equal(t, int64(1), qualityRejected)
}

func TestPipelineNoFaceClearsResults(t *testing.T) {
	t.Parallel()

	detector := &fakeDetector{dets: singleDetection()}
	p := newTestPipeline(t, detector, &fakeEmbedder{emb: unitVec(0)})

	_, processed := p.Process(1, goodFrame())
	require.True(t, processed)
	require.Len(t, p.Results(), 1)

	detector.dets = nil
	results, processed := p.Process(2, goodFrame())
	assert.True(t, processed)
	assert.Empty(t, results)
	assert.Empty(t, p.Results())

	_, _, _, noFace, _, _, _, _ := p.Stats.GetAndReset()
	assert.Equal(t, int64(1), noFace)
}

func TestPipelineLargestFaceFirst(t *testing.T) {
	t.Parallel()

	small := Detection{Box: image.Rect(0, 0, 30, 30)}
	large := Detection{Box: image.Rect(50, 20, 150, 120)}
	p := newTestPipeline(t,
		&fakeDetector{dets: []Detection{small, large}},
		&fakeEmbedder{emb: unitVec(0)})

	results, processed := p.Process(1, goodFrame())
	assert.True(t, processed)
	require.Len(t, results, 2)
	assert.Equal(t, large.Box, results[0].Box)
	assert.Equal(t, small.Box, results[1].Box)

	processedFrames, _, _, _, faces, _, _, _ := p.Stats.GetAndReset()
	assert.Equal(t, int64(1), processedFrames)
	assert.Equal(t, int64(2), faces)
}

func TestPipelineSpoofFlaggedFaceSkipsLiveness(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Now())
	matcher := newTestMatcher(t, testGallery(), index.NewMemory(EmbeddingDim))
	engine := NewEngine(testEngineConfig(), clock)
	confirmEngine(t, engine, unitVec(0))

	// flagged faces must not feed the engine: the orthogonal embedding
	// below would otherwise trip the identity guard and reset it
	spoof := NewSpoofAdapter(&fakeSpoofModel{scores: [3]float32{0.9, 0.05, 0.05}}, 0.5, 1.5)
	p := NewPipeline(testPipelineConfig(),
		&fakeDetector{dets: singleDetection()},
		&fakeEmbedder{emb: unitVec(1)},
		matcher, engine, spoof, NewPublisher(), nil, clock)

	results, processed := p.Process(1, goodFrame())
	require.True(t, processed)
	require.Len(t, results, 1)

	res := results[0]
	assert.True(t, res.Spoof.Flagged)
	assert.Equal(t, LivenessPending, res.Liveness.State)
	assert.Equal(t, "spoof flagged", res.Liveness.Detail)
	assert.False(t, res.Authenticated)

	// the engine's banked evidence is untouched
	assert.Equal(t, LivenessConfirmed, engine.Status().State)
}

func TestPipelineAuditsEveryFace(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Now())
	matcher := newTestMatcher(t, testGallery(), index.NewMemory(EmbeddingDim))
	engine := NewEngine(testEngineConfig(), clock)
	spoof := NewSpoofAdapter(&fakeSpoofModel{scores: [3]float32{0.05, 0.9, 0.05}}, 0.5, 1.5)

	writer := &fakeEventWriter{}
	audit := NewAuditSink(writer, 8)

	small := Detection{Box: image.Rect(0, 0, 30, 30)}
	large := Detection{Box: image.Rect(50, 20, 150, 120)}
	p := NewPipeline(testPipelineConfig(),
		&fakeDetector{dets: []Detection{small, large}},
		&fakeEmbedder{emb: unitVec(0)},
		matcher, engine, spoof, NewPublisher(), audit, clock)

	_, processed := p.Process(1, goodFrame())
	require.True(t, processed)
	audit.Close()

	events := writer.recorded()
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].FrameSeq)
	assert.Equal(t, uint64(1), events[1].FrameSeq)
}

type panickyEmbedder struct{}

func (panickyEmbedder) Embed(image.Image, Detection) (Embedding, error) {
	panic("model state corrupted")
}

func TestPipelineReportsFaultsOnErrorChannel(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Now())
	matcher := newTestMatcher(t, testGallery(), index.NewMemory(EmbeddingDim))
	engine := NewEngine(testEngineConfig(), clock)
	spoof := NewSpoofAdapter(&fakeSpoofModel{scores: [3]float32{0.05, 0.9, 0.05}}, 0.5, 1.5)

	pub := NewPublisher()
	p := NewPipeline(testPipelineConfig(),
		&fakeDetector{dets: singleDetection()},
		panickyEmbedder{},
		matcher, engine, spoof, pub, nil, clock)

	results, processed := p.Process(1, goodFrame())
	require.True(t, processed)
	require.Len(t, results, 1)
	assert.True(t, results[0].Degraded)

	select {
	case err := <-pub.Errors():
		assert.Contains(t, err.Error(), "panic")
	default:
		t.Fatal("fault was not reported on the error channel")
	}
	require.Error(t, pub.LastError())
}

func TestPipelineDegradedFaceOnEmbedderError(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t,
		&fakeDetector{dets: singleDetection()},
		&fakeEmbedder{err: errors.New("model crashed")})

	results, processed := p.Process(1, goodFrame())
	assert.True(t, processed)
	require.Len(t, results, 1)
	assert.True(t, results[0].Degraded)
	assert.False(t, results[0].Authenticated)

	_, _, _, _, _, _, degraded, _ := p.Stats.GetAndReset()
	assert.Equal(t, int64(1), degraded)
}

func TestPipelineDetectorErrorKeepsSnapshot(t *testing.T) {
	t.Parallel()

	detector := &fakeDetector{dets: singleDetection()}
	p := newTestPipeline(t, detector, &fakeEmbedder{emb: unitVec(0)})

	_, processed := p.Process(1, goodFrame())
	require.True(t, processed)

	detector.err = errors.New("camera unplugged")
	results, processed := p.Process(2, goodFrame())
	assert.True(t, processed)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].FrameSeq)
}

func TestPipelineResultsSnapshotIsolation(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t,
		&fakeDetector{dets: singleDetection()},
		&fakeEmbedder{emb: unitVec(0)})

	_, processed := p.Process(1, goodFrame())
	require.True(t, processed)

	first := p.Results()
	second := p.Results()
	require.Len(t, first, 1)

	first[0].FrameSeq = 999
	first[0].Match.Matched = false

	if diff := cmp.Diff(second, p.Results()); diff != "" {
		t.Errorf("snapshot mutated through caller copy (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(1), second[0].FrameSeq)
}
