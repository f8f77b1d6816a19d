package face

import "image"

// eyeRegionScale sizes the sampled patch around each eye landmark
// relative to the face box width.
const eyeRegionScale = 0.12

// estimateEyeOpenness scores how open the eyes look, in roughly [0,1].
// It samples a small patch around each eye landmark and measures local
// vertical contrast: an open eye has strong dark-iris-on-sclera edges,
// a closed lid is nearly uniform skin. With fewer than two landmarks
// the eyes are assumed open.
func estimateEyeOpenness(img image.Image, det Detection) float64 {
	if len(det.Landmarks) < 2 {
		return 1.0
	}

	radius := int(float64(det.Box.Dx()) * eyeRegionScale / 2)
	if radius < 2 {
		radius = 2
	}

	left := eyeContrast(img, det.Landmarks[0], radius)
	right := eyeContrast(img, det.Landmarks[1], radius)
	openness := (left + right) / 2

	if openness > 1 {
		openness = 1
	}
	return openness
}

// eyeContrast measures mean absolute vertical luminance gradient in a
// square patch centered on p, normalized so typical open-eye contrast
// lands near 1.
func eyeContrast(img image.Image, p Point, radius int) float64 {
	b := img.Bounds()
	cx, cy := int(p.X), int(p.Y)

	var gradSum float64
	n := 0
	for y := cy - radius; y < cy+radius; y++ {
		for x := cx - radius; x <= cx+radius; x++ {
			if x < b.Min.X || x >= b.Max.X || y < b.Min.Y || y+1 >= b.Max.Y {
				continue
			}
			gradSum += absDiff(luminanceAt(img, x, y), luminanceAt(img, x, y+1))
			n++
		}
	}
	if n == 0 {
		return 1.0
	}

	// 25.0 is the empirical mean gradient of an open eye patch at
	// this sampling density.
	return (gradSum / float64(n)) / 25.0
}

func luminanceAt(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
