package vision

import (
	"image"

	"github.com/disintegration/imaging"
)

// Styles understood by ApplyStyle.
const (
	StyleArtistic    = "artistic"
	StyleCartoon     = "cartoon"
	StyleOilPainting = "oil_painting"
)

// DefaultStyle is used when a request names none.
const DefaultStyle = StyleArtistic

// KnownStyle reports whether ApplyStyle transforms images for style.
func KnownStyle(style string) bool {
	switch style {
	case StyleArtistic, StyleCartoon, StyleOilPainting:
		return true
	}
	return false
}

// ApplyStyle runs the filter chain registered for style. Unknown styles
// return img itself, untouched.
func ApplyStyle(img image.Image, style string) image.Image {
	switch style {
	case StyleArtistic:
		return artistic(toNRGBA(img))
	case StyleCartoon:
		return cartoon(toNRGBA(img))
	case StyleOilPainting:
		return oilPainting(toNRGBA(img), 7, 1)
	default:
		return img
	}
}

func artistic(src *image.NRGBA) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	smoothed := bilateral(rgbPlanes(src), w, h, 15, 80, 80)
	return fromPlanes(edgePreserving(smoothed, w, h, 50, 0.4), w, h)
}

func cartoon(src *image.NRGBA) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()

	grayImg := imaging.Grayscale(src)
	gray := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gray[y*w+x] = grayImg.Pix[y*grayImg.Stride+x*4]
		}
	}
	edges := adaptiveThresholdMean(medianBlur(gray, w, h, 5), w, h, 9, 9)

	color := fromPlanes(bilateral(rgbPlanes(src), w, h, 9, 300, 300), w, h)
	for i, e := range edges {
		if e == 0 {
			off := (i/w)*color.Stride + (i%w)*4
			color.Pix[off], color.Pix[off+1], color.Pix[off+2] = 0, 0, 0
		}
	}
	return color
}

// oilPainting replaces every pixel by the mean colour of the neighbours that
// share the most frequent quantised intensity within a (2*size+1) square
// window.
func oilPainting(src *image.NRGBA, size, dynRatio int) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if dynRatio < 1 {
		dynRatio = 1
	}
	r := size
	levels := 256/dynRatio + 1

	grayImg := imaging.Grayscale(src)
	bins := make([]int, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bins[y*w+x] = int(grayImg.Pix[y*grayImg.Stride+x*4]) / dynRatio
		}
	}

	dst := newOpaque(w, h)
	count := make([]int, levels)
	sums := make([][3]int, levels)

	add := func(x, y, delta int) {
		sx, sy := reflect101(x, w), reflect101(y, h)
		b := bins[sy*w+sx]
		p := src.Pix[sy*src.Stride+sx*4:]
		count[b] += delta
		sums[b][0] += delta * int(p[0])
		sums[b][1] += delta * int(p[1])
		sums[b][2] += delta * int(p[2])
	}

	for y := 0; y < h; y++ {
		for i := range count {
			count[i] = 0
			sums[i] = [3]int{}
		}
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				add(dx, y+dy, 1)
			}
		}
		for x := 0; x < w; x++ {
			if x > 0 {
				for dy := -r; dy <= r; dy++ {
					add(x-r-1, y+dy, -1)
					add(x+r, y+dy, 1)
				}
			}
			best := 0
			for b := 1; b < levels; b++ {
				if count[b] > count[best] {
					best = b
				}
			}
			off := y*dst.Stride + x*4
			n := count[best]
			dst.Pix[off] = uint8((sums[best][0] + n/2) / n)
			dst.Pix[off+1] = uint8((sums[best][1] + n/2) / n)
			dst.Pix[off+2] = uint8((sums[best][2] + n/2) / n)
		}
	}
	return dst
}
