package library

import (
	"path/filepath"
	"strings"
)

const maxFilenameStem = 80

// SanitizeFilename turns a client- or Steam-claimed filename into a safe
// basename with the extension matching the detected format. Path components
// are stripped, unsafe runes collapse to underscores, and the stem is
// length-bounded.
func SanitizeFilename(claimed, format string) string {
	base := filepath.Base(strings.ReplaceAll(claimed, "\\", "/"))
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	lastUnderscore := true
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	s := strings.Trim(b.String(), "_.")
	if s == "" {
		s = "screenshot"
	}
	if len(s) > maxFilenameStem {
		s = strings.Trim(s[:maxFilenameStem], "_.")
	}
	return s + ExtFor(format)
}

// SuffixFilename disambiguates a colliding filename with a short content
// hash fragment: "shot.jpg" + "deadbeef" -> "shot-deadbeef.jpg".
func SuffixFilename(filename, hashFragment string) string {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	return stem + "-" + hashFragment + ext
}
