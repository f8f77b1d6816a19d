package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"time"

	"github.com/presence-data/facegate/internal/capture"
	"github.com/presence-data/facegate/internal/config"
	"github.com/presence-data/facegate/internal/face"
	"github.com/presence-data/facegate/internal/timeutil"
)

// devRecognizer stands in for the dlib recognizer in dev mode. It
// tracks the bright disc drawn by the synthetic source and emits a
// stable embedding, so the matcher and liveness engine see plausible
// input without any models on disk.
type devRecognizer struct {
	emb face.Embedding
}

func newDevRecognizer() *devRecognizer {
	emb := make(face.Embedding, face.EmbeddingDim)
	for i := range emb {
		emb[i] = float32(1+i%7) / 16
	}
	if err := face.NormalizeInPlace(emb); err != nil {
		panic(err)
	}
	return &devRecognizer{emb: emb}
}

// Detect finds the centroid of bright pixels and boxes it.
func (d *devRecognizer) Detect(img image.Image) ([]face.Detection, error) {
	b := img.Bounds()
	var sumX, sumY, n int
	for y := b.Min.Y; y < b.Max.Y; y += 4 {
		for x := b.Min.X; x < b.Max.X; x += 4 {
			r, g, bl, _ := img.At(x, y).RGBA()
			lum := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
			if lum > 150 {
				sumX += x
				sumY += y
				n++
			}
		}
	}
	if n == 0 {
		return nil, nil
	}

	cx, cy := sumX/n, sumY/n
	half := minDim(b) / 6
	box := image.Rect(cx-half, cy-half, cx+half, cy+half).Intersect(b)

	return []face.Detection{{
		Box: box,
		Landmarks: []face.Point{
			{X: float64(cx) - float64(half)/2, Y: float64(cy) - float64(half)/3},
			{X: float64(cx) + float64(half)/2, Y: float64(cy) - float64(half)/3},
		},
		Confidence: 0.95,
	}}, nil
}

// Embed returns the recognizer's fixed embedding.
func (d *devRecognizer) Embed(image.Image, face.Detection) (face.Embedding, error) {
	out := make(face.Embedding, len(d.emb))
	copy(out, d.emb)
	return out, nil
}

func minDim(b image.Rectangle) int {
	if b.Dx() < b.Dy() {
		return b.Dx()
	}
	return b.Dy()
}

// devSpoofModel always reports a genuine face.
type devSpoofModel struct{}

func (devSpoofModel) Classify(image.Image) ([3]float32, error) {
	return [3]float32{0.02, 0.95, 0.03}, nil
}

// unavailableSpoofModel errors on every call so the spoof screen
// degrades to pass-through.
type unavailableSpoofModel struct{}

func (unavailableSpoofModel) Classify(image.Image) ([3]float32, error) {
	return [3]float32{}, errors.New("no spoof classifier configured")
}

// embedFromFile loads an image and embeds its largest face.
func embedFromFile(detector face.Detector, embedder face.Embedder, path string) (face.Embedding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	dets, err := detector.Detect(img)
	if err != nil {
		return nil, err
	}
	if len(dets) == 0 {
		return nil, fmt.Errorf("no face found in %s", path)
	}

	best := dets[0]
	for _, det := range dets[1:] {
		if det.Area() > best.Area() {
			best = det
		}
	}

	emb, err := embedder.Embed(img, best)
	if err != nil {
		return nil, err
	}
	if !face.IsNormalized(emb) {
		if err := face.NormalizeInPlace(emb); err != nil {
			return nil, err
		}
	}
	return emb, nil
}

// runDisplay renders the freshest captured frame against the latest
// completed results on its own tick. It owns whatever frame it takes
// from the swap and releases it after rendering.
func runDisplay(ctx context.Context, swap *capture.FrameSwap, pub *face.Publisher, tuning *config.TuningConfig, clock timeutil.Clock) {
	ch, cancel := pub.Subscribe(4)
	defer cancel()

	ticker := clock.NewTicker(tuning.GetDisplayInterval())
	defer ticker.Stop()

	var latest []face.FrameResult
	for {
		select {
		case <-ctx.Done():
			return
		case results, ok := <-ch:
			if !ok {
				return
			}
			latest = results
		case <-ticker.C():
			frame := swap.Take()
			if frame == nil {
				continue
			}
			renderResults(frame.Seq, latest)
			frame.Release()
		}
	}
}

func renderResults(frameSeq uint64, results []face.FrameResult) {
	if len(results) == 0 {
		log.Printf("frame %d: no face", frameSeq)
		return
	}

	res := results[0]
	who := "unknown"
	if res.Match.Identity != nil {
		who = res.Match.Identity.Name
	}
	state := string(res.Liveness.State)
	if res.Liveness.Detail != "" {
		state += " (" + res.Liveness.Detail + ")"
	}
	verdict := "DENIED"
	if res.Authenticated {
		verdict = "GRANTED"
	}
	log.Printf("frame %d: %s dist=%.3f liveness=%s spoof_real=%.2f -> %s",
		frameSeq, who, res.Match.Distance, state, res.Spoof.RealProb, verdict)
}

// runStatsLogger emits pipeline counters once a minute.
func runStatsLogger(ctx context.Context, pipeline *face.Pipeline, clock timeutil.Clock) {
	ticker := clock.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			pipeline.Stats.LogStats()
		}
	}
}
