package library

import "encoding/binary"

// ExtractExif returns the raw EXIF payload of a JPEG (the APP1 segment body
// after the "Exif\0\0" marker), or nil when the image carries none. The
// bytes are stored opaquely; nothing here interprets tags.
func ExtractExif(data []byte, format string) []byte {
	if format != FormatJPEG {
		return nil
	}
	// Walk JPEG segments: SOI, then marker/length pairs until SOS.
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return nil
		}
		marker := data[i+1]
		if marker == 0xDA { // start of scan; no APP1 before image data
			return nil
		}
		// Standalone markers carry no length.
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD9) {
			i += 2
			continue
		}
		segLen := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if segLen < 2 || i+2+segLen > len(data) {
			return nil
		}
		if marker == 0xE1 { // APP1
			body := data[i+4 : i+2+segLen]
			if len(body) >= 6 && string(body[:6]) == "Exif\x00\x00" {
				out := make([]byte, len(body)-6)
				copy(out, body[6:])
				return out
			}
		}
		i += 2 + segLen
	}
	return nil
}
