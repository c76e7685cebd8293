package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adiuv0/gamevault/db"
	"github.com/adiuv0/gamevault/library"
)

// ingestTimeout bounds one unit of ingest work (decode + writes + insert).
const ingestTimeout = 30 * time.Second

// Skip reasons reported in screenshot_skipped events.
const (
	SkipDuplicateID    = "duplicate id"
	SkipDuplicateHash  = "duplicate hash"
	SkipDuplicateRaced = "duplicate hash (raced)"
)

// IngestInput is one screenshot's bytes plus source metadata.
type IngestInput struct {
	Data              []byte
	Source            string // db.Source*
	Game              db.Game
	ClaimedFilename   string
	SteamScreenshotID *string
	SteamDescription  *string
	TakenAt           *time.Time
}

// IngestOutcome is the per-item result. Exactly one of the three states
// holds: completed (ScreenshotID set), skipped (SkipReason set), or failed
// (FailReason set). Infrastructure problems — storage or disk — are
// returned as errors instead and are fatal for the surrounding session.
type IngestOutcome struct {
	ScreenshotID int64
	SkipReason   string
	FailReason   string
}

func (o IngestOutcome) Completed() bool { return o.ScreenshotID != 0 }
func (o IngestOutcome) Skipped() bool   { return o.SkipReason != "" }
func (o IngestOutcome) Failed() bool    { return o.FailReason != "" }

// Ingestor turns raw image bytes into a persisted screenshot row with an
// original file and two thumbnails. Shared by the Steam import engine and
// the manual upload path. It publishes nothing; callers emit events.
type Ingestor struct {
	repo db.Repo
	lib  *library.Library
}

func NewIngestor(repo db.Repo, lib *library.Library) *Ingestor {
	return &Ingestor{repo: repo, lib: lib}
}

// Ingest runs the full unit of work. Failures are never partial: any file
// written before an error is removed before returning.
func (ing *Ingestor) Ingest(ctx context.Context, in IngestInput) (IngestOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	format, err := library.DetectFormat(in.Data)
	if err != nil {
		return IngestOutcome{FailReason: "unrecognized image format"}, nil
	}

	fileHash := db.HashBytes(in.Data)

	// Dedup, id first, then content hash.
	if in.SteamScreenshotID != nil {
		exists, err := ing.repo.HasScreenshotBySteamID(ctx, in.Game.ID, *in.SteamScreenshotID)
		if err != nil {
			return IngestOutcome{}, fmt.Errorf("dedup by steam id: %w", err)
		}
		if exists {
			return IngestOutcome{SkipReason: SkipDuplicateID}, nil
		}
	}
	exists, err := ing.repo.HasScreenshotByHash(ctx, in.Game.ID, fileHash)
	if err != nil {
		return IngestOutcome{}, fmt.Errorf("dedup by hash: %w", err)
	}
	if exists {
		return IngestOutcome{SkipReason: SkipDuplicateHash}, nil
	}

	img, err := library.Decode(in.Data)
	if err != nil {
		return IngestOutcome{FailReason: fmt.Sprintf("decode failed: %v", err)}, nil
	}
	bounds := img.Bounds()
	exifData := library.ExtractExif(in.Data, format)

	filename := library.SanitizeFilename(in.ClaimedFilename, format)
	if ing.lib.Exists(in.Game.FolderName, filename) {
		filename = library.SuffixFilename(filename, fileHash[:8])
	}

	origPath, err := ing.lib.SaveOriginal(in.Game.FolderName, filename, in.Data)
	if err != nil {
		return IngestOutcome{}, err
	}
	smPath, mdPath, err := ing.lib.SaveThumbs(in.Game.FolderName, filename, img)
	if err != nil {
		ing.lib.Remove(origPath)
		return IngestOutcome{}, err
	}

	id, err := ing.repo.InsertScreenshot(ctx, db.ScreenshotInsert{
		GameID:            in.Game.ID,
		Filename:          filename,
		FilePath:          origPath,
		ThumbSmPath:       smPath,
		ThumbMdPath:       mdPath,
		FileSize:          int64(len(in.Data)),
		Width:             bounds.Dx(),
		Height:            bounds.Dy(),
		Format:            format,
		TakenAt:           in.TakenAt,
		SteamScreenshotID: in.SteamScreenshotID,
		SteamDescription:  in.SteamDescription,
		Source:            in.Source,
		FileHash:          fileHash,
		ExifData:          exifData,
	})
	if err != nil {
		ing.lib.Remove(origPath, smPath, mdPath)
		if errors.Is(err, db.ErrDuplicate) {
			// Lost a concurrent race on (game_id, file_hash).
			return IngestOutcome{SkipReason: SkipDuplicateRaced}, nil
		}
		return IngestOutcome{}, fmt.Errorf("insert screenshot: %w", err)
	}
	return IngestOutcome{ScreenshotID: id}, nil
}
