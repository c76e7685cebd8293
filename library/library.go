// Package library owns the on-disk screenshot layout:
//
//	{root}/{game_folder}/{filename}.{ext}
//	{root}/{game_folder}/thumbs/{stem}_sm.jpg
//	{root}/{game_folder}/thumbs/{stem}_md.jpg
//
// All writes go through a temp file in the destination directory followed
// by an atomic rename. No lock files.
package library

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

type Library struct {
	root         string
	thumbQuality int
}

func New(root string, thumbQuality int) *Library {
	return &Library{root: root, thumbQuality: thumbQuality}
}

func (l *Library) Root() string { return l.root }

// OriginalPath returns the absolute path an original with the given game
// folder and filename lives at.
func (l *Library) OriginalPath(gameFolder, filename string) string {
	return filepath.Join(l.root, gameFolder, filename)
}

// ThumbPaths returns the small and medium thumbnail paths for a stored
// original. Thumbnails are keyed by the original's filename stem, which is
// unique within the game folder.
func (l *Library) ThumbPaths(gameFolder, filename string) (sm, md string) {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	dir := filepath.Join(l.root, gameFolder, "thumbs")
	return filepath.Join(dir, stem+"_sm.jpg"), filepath.Join(dir, stem+"_md.jpg")
}

// SaveOriginal writes the original bytes under the game folder and returns
// the final path.
func (l *Library) SaveOriginal(gameFolder, filename string, data []byte) (string, error) {
	path := l.OriginalPath(gameFolder, filename)
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write original: %w", err)
	}
	return path, nil
}

// SaveThumbs renders and writes both thumbnails for img.
func (l *Library) SaveThumbs(gameFolder, filename string, img image.Image) (sm, md string, err error) {
	sm, md = l.ThumbPaths(gameFolder, filename)
	if err = l.writeThumb(sm, img, thumbSmallEdge); err != nil {
		return "", "", err
	}
	if err = l.writeThumb(md, img, thumbMediumEdge); err != nil {
		_ = os.Remove(sm)
		return "", "", err
	}
	return sm, md, nil
}

func (l *Library) writeThumb(path string, img image.Image, shortEdge int) error {
	data, err := renderThumb(img, shortEdge, l.thumbQuality)
	if err != nil {
		return fmt.Errorf("render thumb: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write thumb: %w", err)
	}
	return nil
}

// Exists reports whether a file with this exact name is already stored in
// the game folder. Used for filename collision resolution.
func (l *Library) Exists(gameFolder, filename string) bool {
	_, err := os.Stat(l.OriginalPath(gameFolder, filename))
	return err == nil
}

// Remove deletes the given paths, ignoring ones that are already gone.
// Used to roll back a partially written ingest.
func (l *Library) Remove(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		_ = os.Remove(p)
	}
}

// Decode parses image bytes into an image.Image. Format support is
// whatever the registered decoders provide (see imports in detect.go).
func Decode(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
