package vision

import "image"

// reflect101 maps i into [0, n) mirroring around the edge pixels without
// repeating them (gfedcb|abcdefgh|gfedcba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		} else {
			i = 2*n - 2 - i
		}
	}
	return i
}

// replicate clamps i into [0, n).
func replicate(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// rgbPlanes splits the colour channels of src into float planes, ignoring alpha.
func rgbPlanes(src *image.NRGBA) [3][]float32 {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	var planes [3][]float32
	for c := range planes {
		planes[c] = make([]float32, w*h)
	}
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		for x := 0; x < w; x++ {
			i := y*w + x
			planes[0][i] = float32(row[x*4])
			planes[1][i] = float32(row[x*4+1])
			planes[2][i] = float32(row[x*4+2])
		}
	}
	return planes
}

// fromPlanes assembles an opaque image from three float planes.
func fromPlanes(planes [3][]float32, w, h int) *image.NRGBA {
	dst := newOpaque(w, h)
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		for x := 0; x < w; x++ {
			i := y*w + x
			row[x*4] = clampByte(float64(planes[0][i]))
			row[x*4+1] = clampByte(float64(planes[1][i]))
			row[x*4+2] = clampByte(float64(planes[2][i]))
		}
	}
	return dst
}

// newOpaque allocates a w x h image with every alpha byte set to 255.
func newOpaque(w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 255
	}
	return dst
}
