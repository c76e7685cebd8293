package library

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
)

// Thumbnail sizes: short edge in pixels.
const (
	thumbSmallEdge  = 400
	thumbMediumEdge = 800
)

// renderThumb resizes img so its short edge is shortEdge pixels (never
// upscaling) and encodes it as JPEG at the given quality.
func renderThumb(img image.Image, shortEdge, quality int) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var resized image.Image
	switch {
	case min(w, h) <= shortEdge:
		resized = img
	case w <= h:
		resized = imaging.Resize(img, shortEdge, 0, imaging.Lanczos)
	default:
		resized = imaging.Resize(img, 0, shortEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
