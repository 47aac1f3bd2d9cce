package caption

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// InputSize is the square input edge of the VGG16 encoder.
const InputSize = 224

// ImageNet channel means in BGR order, as subtracted by VGG16 "caffe"
// preprocessing.
var vggMeans = [3]float32{103.939, 116.779, 123.68}

// Batch is a single-image NHWC tensor with channels in BGR order.
type Batch struct {
	Height int
	Width  int
	Pixels []float32 // len = Height*Width*3
}

// Preprocess converts img to RGB, resizes it to InputSize x InputSize and
// applies VGG16 caffe preprocessing.
func Preprocess(img image.Image) *Batch {
	resized := imaging.Clone(resize.Resize(InputSize, InputSize, img, resize.Bicubic))

	b := &Batch{
		Height: InputSize,
		Width:  InputSize,
		Pixels: make([]float32, InputSize*InputSize*3),
	}
	for y := 0; y < InputSize; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < InputSize; x++ {
			r, g, bl := row[x*4], row[x*4+1], row[x*4+2]
			i := (y*InputSize + x) * 3
			b.Pixels[i] = float32(bl) - vggMeans[0]
			b.Pixels[i+1] = float32(g) - vggMeans[1]
			b.Pixels[i+2] = float32(r) - vggMeans[2]
		}
	}
	return b
}

// nested returns the batch as [height][width][channel] for JSON encoding.
func (b *Batch) nested() [][][3]float32 {
	out := make([][][3]float32, b.Height)
	for y := range out {
		out[y] = make([][3]float32, b.Width)
		for x := range out[y] {
			i := (y*b.Width + x) * 3
			out[y][x] = [3]float32{b.Pixels[i], b.Pixels[i+1], b.Pixels[i+2]}
		}
	}
	return out
}
