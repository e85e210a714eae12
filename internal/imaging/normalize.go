package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUndecodable is returned when the payload is not a decodable image.
var ErrUndecodable = errors.New("UNDECODABLE: image data is not a decodable png, jpeg, or webp")

const jpegQuality = 90

// Normalized is a decoded, three-channel image at or under the provider's
// pixel ceiling, re-encoded as JPEG for dispatch.
type Normalized struct {
	Data         []byte
	Width        int
	Height       int
	SourceFormat string
}

// Normalize decodes raw image bytes, flattens them to three-channel color,
// and downsamples with a Catmull-Rom filter if the pixel count exceeds
// maxPixels, preserving aspect ratio. Deterministic for identical input and
// ceiling.
func Normalize(raw []byte, maxPixels int) (*Normalized, error) {
	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, ErrUndecodable
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, ErrUndecodable
	}

	if width*height > maxPixels {
		// floor(w*f) * floor(h*f) <= w*h*f^2 = maxPixels, so the ceiling is
		// guaranteed after scaling.
		factor := math.Sqrt(float64(maxPixels) / float64(width*height))
		newWidth := max(1, int(float64(width)*factor))
		newHeight := max(1, int(float64(height)*factor))

		dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
		src = dst
		width, height = newWidth, newHeight
	}

	// JPEG is three-channel; encoding drops any alpha plane.
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding normalized image: %w", err)
	}

	return &Normalized{
		Data:         buf.Bytes(),
		Width:        width,
		Height:       height,
		SourceFormat: format,
	}, nil
}
