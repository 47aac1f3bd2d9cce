package vision

import (
	"math"
	"sort"
)

// bilateral smooths three colour planes with an edge-aware kernel. The window
// is the disc of diameter d; weights fall off with spatial distance (sigmaSpace)
// and with the L1 colour distance to the centre pixel (sigmaColor).
func bilateral(src [3][]float32, w, h, d int, sigmaColor, sigmaSpace float64) [3][]float32 {
	radius := d / 2
	if radius < 1 {
		radius = 1
	}

	type tap struct {
		dx, dy int
		weight float64
	}
	var taps []tap
	spaceCoeff := -0.5 / (sigmaSpace * sigmaSpace)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			r := math.Sqrt(float64(dx*dx + dy*dy))
			if r > float64(radius) {
				continue
			}
			taps = append(taps, tap{dx: dx, dy: dy, weight: math.Exp(r * r * spaceCoeff)})
		}
	}

	// Colour distance is an integer sum of three byte differences.
	colorCoeff := -0.5 / (sigmaColor * sigmaColor)
	colorWeight := make([]float64, 3*255+1)
	for i := range colorWeight {
		colorWeight[i] = math.Exp(float64(i*i) * colorCoeff)
	}

	var dst [3][]float32
	for c := range dst {
		dst[c] = make([]float32, w*h)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			r0, g0, b0 := src[0][i], src[1][i], src[2][i]
			var sumW, sumR, sumG, sumB float64
			for _, t := range taps {
				j := reflect101(y+t.dy, h)*w + reflect101(x+t.dx, w)
				r, g, b := src[0][j], src[1][j], src[2][j]
				diff := absInt(int(r)-int(r0)) + absInt(int(g)-int(g0)) + absInt(int(b)-int(b0))
				wt := t.weight * colorWeight[diff]
				sumW += wt
				sumR += wt * float64(r)
				sumG += wt * float64(g)
				sumB += wt * float64(b)
			}
			dst[0][i] = float32(math.Round(sumR / sumW))
			dst[1][i] = float32(math.Round(sumG / sumW))
			dst[2][i] = float32(math.Round(sumB / sumW))
		}
	}
	return dst
}

// edgePreserving runs the recursive domain-transform filter (three passes of
// horizontal then vertical recursion) on planes scaled to [0, 1].
func edgePreserving(src [3][]float32, w, h int, sigmaS, sigmaR float64) [3][]float32 {
	const iterations = 3

	img := make([][]float64, 3)
	for c := range img {
		img[c] = make([]float64, w*h)
		for i, v := range src[c] {
			img[c][i] = float64(v) / 255
		}
	}

	// Domain transform derivatives, computed once from the input.
	ratio := sigmaS / sigmaR
	ctH := make([]float64, w*h)
	ctV := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			var dh, dv float64
			for c := 0; c < 3; c++ {
				if x+1 < w {
					dh += math.Abs(img[c][i+1] - img[c][i])
				}
				if y+1 < h {
					dv += math.Abs(img[c][i+w] - img[c][i])
				}
			}
			ctH[i] = 1 + ratio*dh
			ctV[i] = 1 + ratio*dv
		}
	}

	for it := 0; it < iterations; it++ {
		sigmaH := sigmaS * math.Sqrt(3) * math.Pow(2, float64(iterations-it-1)) /
			math.Sqrt(math.Pow(4, iterations)-1)
		a := math.Exp(-math.Sqrt(2) / sigmaH)

		for y := 0; y < h; y++ {
			recursePass(img, ctH, a, y*w, 1, w)
		}
		for x := 0; x < w; x++ {
			recursePass(img, ctV, a, x, w, h)
		}
	}

	var dst [3][]float32
	for c := range dst {
		dst[c] = make([]float32, w*h)
		for i, v := range img[c] {
			dst[c][i] = float32(v * 255)
		}
	}
	return dst
}

// recursePass filters one row or column in place: a causal sweep followed by
// an anti-causal one, with feedback a^ct between neighbours.
func recursePass(img [][]float64, ct []float64, a float64, start, stride, n int) {
	for k := 1; k < n; k++ {
		i := start + k*stride
		prev := i - stride
		v := math.Pow(a, ct[prev])
		for c := range img {
			img[c][i] += v * (img[c][prev] - img[c][i])
		}
	}
	for k := n - 2; k >= 0; k-- {
		i := start + k*stride
		next := i + stride
		v := math.Pow(a, ct[i])
		for c := range img {
			img[c][i] += v * (img[c][next] - img[c][i])
		}
	}
}

// medianBlur replaces each sample by the median of its ksize x ksize
// neighbourhood, replicating border samples.
func medianBlur(src []uint8, w, h, ksize int) []uint8 {
	r := ksize / 2
	dst := make([]uint8, len(src))
	window := make([]int, 0, ksize*ksize)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			window = window[:0]
			for dy := -r; dy <= r; dy++ {
				row := replicate(y+dy, h) * w
				for dx := -r; dx <= r; dx++ {
					window = append(window, int(src[row+replicate(x+dx, w)]))
				}
			}
			sort.Ints(window)
			dst[y*w+x] = uint8(window[len(window)/2])
		}
	}
	return dst
}

// adaptiveThresholdMean marks a sample 255 when it is above the rounded mean
// of its block x block neighbourhood minus c, and 0 otherwise.
func adaptiveThresholdMean(src []uint8, w, h, block int, c float64) []uint8 {
	r := block / 2
	// Integral image with a replicated border of r samples on every side.
	pw, ph := w+2*r, h+2*r
	integral := make([]int64, (pw+1)*(ph+1))
	for y := 0; y < ph; y++ {
		var rowSum int64
		sy := replicate(y-r, h)
		for x := 0; x < pw; x++ {
			rowSum += int64(src[sy*w+replicate(x-r, w)])
			integral[(y+1)*(pw+1)+x+1] = integral[y*(pw+1)+x+1] + rowSum
		}
	}

	area := float64(block * block)
	delta := int(math.Ceil(c))
	dst := make([]uint8, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			x0, y0, x1, y1 := x, y, x+block, y+block
			sum := integral[y1*(pw+1)+x1] - integral[y0*(pw+1)+x1] -
				integral[y1*(pw+1)+x0] + integral[y0*(pw+1)+x0]
			mean := int(math.Round(float64(sum) / area))
			if int(src[y*w+x])-mean > -delta {
				dst[y*w+x] = 255
			}
		}
	}
	return dst
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
