package library

import (
	"bytes"
	"errors"

	// Decoder registrations for Decode. imaging bundles jpeg/png/gif and
	// the x/image bmp/tiff codecs; webp decode comes from x/image directly.
	_ "golang.org/x/image/webp"
)

// Accepted image formats, in canonical lowercase form.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
	FormatBMP  = "bmp"
	FormatTIFF = "tiff"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

// DetectFormat sniffs the magic bytes of data and returns the canonical
// format name. Only the five accepted formats are recognized; everything
// else is ErrUnsupportedFormat.
func DetectFormat(data []byte) (string, error) {
	switch {
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG, nil
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return FormatPNG, nil
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP, nil
	case len(data) >= 2 && bytes.Equal(data[:2], []byte("BM")):
		return FormatBMP, nil
	case len(data) >= 4 && (bytes.Equal(data[:4], []byte{'I', 'I', 0x2A, 0x00}) || bytes.Equal(data[:4], []byte{'M', 'M', 0x00, 0x2A})):
		return FormatTIFF, nil
	}
	return "", ErrUnsupportedFormat
}

// ExtFor maps a canonical format to its filename extension.
func ExtFor(format string) string {
	switch format {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	case FormatBMP:
		return ".bmp"
	case FormatTIFF:
		return ".tiff"
	}
	return ""
}
