package face

import (
	"image"
	"math"
)

// specularThreshold is the luminance above which a pixel counts as a
// specular highlight, on the 0..255 scale.
const specularThreshold = 240.0

// qualityStride is the pixel subsampling step for the full-frame
// quality gate. The gate runs every frame, so it trades precision for
// speed.
const qualityStride = 4

// AnalyzeTexture computes the surface statistics of a face crop used
// by the liveness texture veto. Every pixel of the crop is visited.
func AnalyzeTexture(img image.Image) TextureMetrics {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return TextureMetrics{}
	}

	// grayscale plane for the Laplacian, 0..255
	gray := make([]float64, w*h)

	var sumR, sumG, sumB float64
	var sumSqR, sumSqG, sumSqB float64
	var lumSum float64
	var specular int
	n := float64(w * h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			fr := float64(r >> 8)
			fg := float64(g >> 8)
			fb := float64(bl >> 8)

			sumR += fr
			sumG += fg
			sumB += fb
			sumSqR += fr * fr
			sumSqG += fg * fg
			sumSqB += fb * fb

			lum := 0.299*fr + 0.587*fg + 0.114*fb
			gray[y*w+x] = lum
			lumSum += lum
			if lum >= specularThreshold {
				specular++
			}
		}
	}

	lapVar := laplacianVariance(gray, w, h)

	stddev := func(sum, sumSq float64) float64 {
		mean := sum / n
		v := sumSq/n - mean*mean
		if v < 0 {
			v = 0
		}
		return math.Sqrt(v)
	}
	colorStd := (stddev(sumR, sumSqR) + stddev(sumG, sumSqG) + stddev(sumB, sumSqB)) / 3

	return TextureMetrics{
		LaplacianVariance: lapVar,
		ColorStddev:       colorStd,
		SpecularRatio:     100 * float64(specular) / n,
		MeanLuminance:     lumSum / n,
	}
}

// laplacianVariance applies the 4-neighbour Laplacian to the interior
// of the grayscale plane and returns the response variance. Sharp
// natural skin texture scores high; a recaptured image is blurred by
// the second sampling and scores low.
func laplacianVariance(gray []float64, w, h int) float64 {
	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := 4*gray[y*w+x] -
				gray[y*w+x-1] - gray[y*w+x+1] -
				gray[(y-1)*w+x] - gray[(y+1)*w+x]
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	v := sumSq/float64(n) - mean*mean
	if v < 0 {
		v = 0
	}
	return v
}

// QualityMetrics are the coarse full-frame statistics used to gate
// frames before any face work happens.
type QualityMetrics struct {
	Brightness float64
	Sharpness  float64
}

// AssessQuality subsamples the frame and returns its mean luminance
// and a gradient-based sharpness score.
func AssessQuality(img image.Image) QualityMetrics {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 2*qualityStride || h < 2*qualityStride {
		return QualityMetrics{}
	}

	var lumSum, gradSum float64
	var prevLum float64
	samples := 0
	gradSamples := 0

	for y := 0; y < h; y += qualityStride {
		first := true
		for x := 0; x < w; x += qualityStride {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			lum := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
			lumSum += lum
			samples++
			if !first {
				gradSum += math.Abs(lum - prevLum)
				gradSamples++
			}
			prevLum = lum
			first = false
		}
	}
	if samples == 0 {
		return QualityMetrics{}
	}

	qm := QualityMetrics{Brightness: lumSum / float64(samples)}
	if gradSamples > 0 {
		qm.Sharpness = gradSum / float64(gradSamples)
	}
	return qm
}
