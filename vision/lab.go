package vision

import "math"

// CIE Lab with a D65 white point, scaled to byte range the way 8-bit image
// pipelines store it: L in [0,255] (L* x 255/100), a and b offset by 128.

const (
	whiteX = 0.950456
	whiteZ = 1.088754
	labEps = 0.008856
)

func srgbToLinear(v float64) float64 {
	v /= 255
	if v <= 0.04045 {
		return v / 12.92
	}
	return math.Pow((v+0.055)/1.055, 2.4)
}

func linearToSRGB(v float64) float64 {
	if v <= 0.0031308 {
		v *= 12.92
	} else {
		v = 1.055*math.Pow(v, 1/2.4) - 0.055
	}
	return v * 255
}

func labF(t float64) float64 {
	if t > labEps {
		return math.Cbrt(t)
	}
	return 7.787*t + 16.0/116.0
}

func labFInv(f float64) float64 {
	if t := f * f * f; t > labEps {
		return t
	}
	return (f - 16.0/116.0) / 7.787
}

// rgbToLab converts one sRGB byte triple to byte-scaled Lab.
func rgbToLab(r, g, b float64) (float64, float64, float64) {
	rl, gl, bl := srgbToLinear(r), srgbToLinear(g), srgbToLinear(b)
	x := (0.412453*rl + 0.357580*gl + 0.180423*bl) / whiteX
	y := 0.212671*rl + 0.715160*gl + 0.072169*bl
	z := (0.019334*rl + 0.119193*gl + 0.950227*bl) / whiteZ

	var l float64
	if y > labEps {
		l = 116*math.Cbrt(y) - 16
	} else {
		l = 903.3 * y
	}
	fx, fy, fz := labF(x), labF(y), labF(z)
	return l * 255 / 100, 500*(fx-fy) + 128, 200*(fy-fz) + 128
}

// labToRGB inverts rgbToLab, returning unclamped sRGB values.
func labToRGB(l, a, b float64) (float64, float64, float64) {
	l = l * 100 / 255
	a -= 128
	b -= 128

	fy := (l + 16) / 116
	var y float64
	if l > 903.3*labEps {
		y = fy * fy * fy
	} else {
		y = l / 903.3
	}
	x := labFInv(fy+a/500) * whiteX
	z := labFInv(fy-b/200) * whiteZ

	rl := 3.240479*x - 1.53715*y - 0.498535*z
	gl := -0.969256*x + 1.875991*y + 0.041556*z
	bl := 0.055648*x - 0.204043*y + 1.057311*z
	return linearToSRGB(rl), linearToSRGB(gl), linearToSRGB(bl)
}

// planesToLab converts RGB planes to byte-quantised Lab planes.
func planesToLab(rgb [3][]float32) [3][]float32 {
	var lab [3][]float32
	n := len(rgb[0])
	for c := range lab {
		lab[c] = make([]float32, n)
	}
	for i := 0; i < n; i++ {
		l, a, b := rgbToLab(float64(rgb[0][i]), float64(rgb[1][i]), float64(rgb[2][i]))
		lab[0][i] = float32(clampByte(l))
		lab[1][i] = float32(clampByte(a))
		lab[2][i] = float32(clampByte(b))
	}
	return lab
}

// labToPlanes converts Lab planes back to byte-quantised RGB planes.
func labToPlanes(lab [3][]float32) [3][]float32 {
	var rgb [3][]float32
	n := len(lab[0])
	for c := range rgb {
		rgb[c] = make([]float32, n)
	}
	for i := 0; i < n; i++ {
		r, g, b := labToRGB(float64(lab[0][i]), float64(lab[1][i]), float64(lab[2][i]))
		rgb[0][i] = float32(clampByte(r))
		rgb[1][i] = float32(clampByte(g))
		rgb[2][i] = float32(clampByte(b))
	}
	return rgb
}
