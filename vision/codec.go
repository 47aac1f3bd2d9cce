// Package vision holds the deterministic image filters behind the
// remove-background, style-transfer and enhance-image endpoints, plus the
// decode/encode helpers shared by every handler.
package vision

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Keep for decoding gifs
	_ "image/jpeg" // Keep for decoding jpegs
	_ "image/png"  // Keep for decoding pngs
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxPixels is the largest canvas Decode accepts, the same bound
// Pillow uses before refusing an image as a decompression bomb.
const DefaultMaxPixels = 178956970

var (
	// ErrEmptyImage is returned when an upload carries no bytes.
	ErrEmptyImage = errors.New("empty image")
	// ErrImageTooLarge is returned when the declared canvas exceeds the pixel limit.
	ErrImageTooLarge = errors.New("image dimensions exceed the allowed pixel count")
)

// Decode decodes an uploaded image of at most DefaultMaxPixels pixels and
// reports its format.
func Decode(data []byte) (image.Image, string, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit decodes an uploaded image after checking from its header that
// the canvas holds at most maxPixels pixels.
func DecodeLimit(data []byte, maxPixels int) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); maxPixels > 0 && pixels > int64(maxPixels) {
		return nil, "", fmt.Errorf("%w: %dx%d is over %d", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image to png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI renders PNG bytes as a data:image/png;base64 URI.
func DataURI(pngBytes []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
}

// ParseDataURI splits a data:image/...;base64 URI into its MIME type and the
// decoded payload. A bare base64 string is accepted and reported as image/png.
func ParseDataURI(uri string) (string, []byte, error) {
	contentType := "image/png"
	payload := uri
	if strings.HasPrefix(uri, "data:") {
		commaIndex := strings.Index(uri, ",")
		if commaIndex == -1 {
			return "", nil, errors.New("invalid data URL format: missing comma")
		}
		prefix := uri[len("data:"):commaIndex]
		if mime, _, _ := strings.Cut(prefix, ";"); mime != "" {
			contentType = mime
		}
		payload = uri[commaIndex+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode base64 image data: %w", err)
	}
	return contentType, data, nil
}

// toNRGBA returns a copy of img as non-premultiplied RGBA anchored at (0,0).
func toNRGBA(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}
