package vision

import (
	"image"

	"github.com/disintegration/imaging"
)

// Enhancement parameters.
const (
	denoiseStrength      = 10
	denoiseColorStrength = 10
	denoiseTemplate      = 7
	denoiseSearch        = 21
	claheClipLimit       = 3.0
	claheTiles           = 8
)

var sharpenKernel = [9]float64{
	-1, -1, -1,
	-1, 9, -1,
	-1, -1, -1,
}

// Enhance denoises img, sharpens it and equalises the contrast of its
// lightness channel. The result is opaque and has the size of img.
func Enhance(img image.Image) *image.NRGBA {
	src := toNRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if w == 0 || h == 0 {
		return src
	}

	denoised := fromPlanes(denoise(rgbPlanes(src), w, h), w, h)

	sharpened := imaging.Convolve3x3(denoised, sharpenKernel, nil)

	lab := planesToLab(rgbPlanes(sharpened))
	lab[0] = clahe(lab[0], w, h, claheClipLimit, claheTiles, claheTiles)
	return fromPlanes(labToPlanes(lab), w, h)
}

// denoise runs non-local means in Lab space, lightness and chroma separately.
func denoise(rgb [3][]float32, w, h int) [3][]float32 {
	lab := planesToLab(rgb)
	l := nlMeans([][]float32{lab[0]}, w, h, denoiseStrength, denoiseTemplate, denoiseSearch)
	ab := nlMeans([][]float32{lab[1], lab[2]}, w, h, denoiseColorStrength, denoiseTemplate, denoiseSearch)
	return labToPlanes([3][]float32{l[0], ab[0], ab[1]})
}
