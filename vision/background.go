package vision

import (
	"image"
	"math"
)

// BackgroundEdgeThreshold is the gradient magnitude above which a pixel is
// kept opaque by RemoveBackground.
const BackgroundEdgeThreshold = 10

// RemoveBackground keeps the colour channels of img and replaces its alpha
// with a binary mask: 255 where |d/dy| + |d/dx| of the channel-mean intensity
// exceeds BackgroundEdgeThreshold, 0 elsewhere.
func RemoveBackground(img image.Image) *image.NRGBA {
	dst := toNRGBA(img)
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	if w == 0 || h == 0 {
		return dst
	}

	gray := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+3]
			gray[y*w+x] = (float64(p[0]) + float64(p[1]) + float64(p[2])) / 3
		}
	}

	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			gy := gradientAt(gray, y*w+x, y, h, w)
			gx := gradientAt(gray, y*w+x, x, w, 1)
			if math.Abs(gy)+math.Abs(gx) > BackgroundEdgeThreshold {
				row[x*4+3] = 255
			} else {
				row[x*4+3] = 0
			}
		}
	}
	return dst
}

// gradientAt returns the first derivative of values at index i along an axis
// of length n whose neighbours are stride apart. Interior points use central
// differences, the two ends use one-sided differences and a single-sample
// axis has no slope.
func gradientAt(values []float64, i, pos, n, stride int) float64 {
	switch {
	case n < 2:
		return 0
	case pos == 0:
		return values[i+stride] - values[i]
	case pos == n-1:
		return values[i] - values[i-stride]
	default:
		return (values[i+stride] - values[i-stride]) / 2
	}
}
