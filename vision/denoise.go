package vision

import "math"

// nlMeans denoises a group of planes jointly with non-local means. For every
// pixel, candidates in a search x search window are averaged with weights
// exp(-d/h^2), where d is the mean squared difference between the template x
// template patches around the pixel and the candidate. Patch sums come from a
// per-offset integral image, so the cost does not grow with the template size.
func nlMeans(planes [][]float32, w, h int, hParam float64, template, search int) [][]float32 {
	t := template / 2
	s := search / 2
	pad := s + t
	pw, ph := w+2*pad, h+2*pad
	cn := len(planes)

	padded := make([][]float64, cn)
	for c, p := range planes {
		padded[c] = make([]float64, pw*ph)
		for y := 0; y < ph; y++ {
			sy := reflect101(y-pad, h)
			for x := 0; x < pw; x++ {
				padded[c][y*pw+x] = float64(p[sy*w+reflect101(x-pad, w)])
			}
		}
	}

	// Squared differences are needed for every pixel's template, i.e. on the
	// image grown by t on each side.
	rw, rh := w+2*t, h+2*t
	integral := make([]float64, (rw+1)*(rh+1))

	sumW := make([]float64, w*h)
	sums := make([][]float64, cn)
	for c := range sums {
		sums[c] = make([]float64, w*h)
	}

	norm := 1 / (float64(template*template*cn) * hParam * hParam)

	for dy := -s; dy <= s; dy++ {
		for dx := -s; dx <= s; dx++ {
			off := dy*pw + dx
			for y := 0; y < rh; y++ {
				var rowSum float64
				base := (y+pad-t)*pw + pad - t
				for x := 0; x < rw; x++ {
					i := base + x
					var d float64
					for c := 0; c < cn; c++ {
						diff := padded[c][i] - padded[c][i+off]
						d += diff * diff
					}
					rowSum += d
					integral[(y+1)*(rw+1)+x+1] = integral[y*(rw+1)+x+1] + rowSum
				}
			}

			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					x1, y1 := x+template, y+template
					dist := integral[y1*(rw+1)+x1] - integral[y*(rw+1)+x1] -
						integral[y1*(rw+1)+x] + integral[y*(rw+1)+x]
					wt := math.Exp(-dist * norm)
					j := y*w + x
					sumW[j] += wt
					src := (y+pad)*pw + x + pad + off
					for c := 0; c < cn; c++ {
						sums[c][j] += wt * padded[c][src]
					}
				}
			}
		}
	}

	out := make([][]float32, cn)
	for c := range out {
		out[c] = make([]float32, w*h)
		for j := range out[c] {
			out[c][j] = float32(clampByte(sums[c][j] / sumW[j]))
		}
	}
	return out
}
