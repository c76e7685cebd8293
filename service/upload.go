package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/adiuv0/gamevault/db"
	"github.com/adiuv0/gamevault/progress"
)

// UploadFile is one file from a multipart upload request, already read.
type UploadFile struct {
	Name string
	Data []byte
}

// Uploader runs manual uploads through the same ingest path as the Steam
// import, reporting progress over the same event vocabulary.
type Uploader struct {
	repo     db.Repo
	ingestor *Ingestor
	bus      *progress.Bus
	log      *slog.Logger
}

func NewUploader(repo db.Repo, ingestor *Ingestor, bus *progress.Bus, logger *slog.Logger) *Uploader {
	return &Uploader{repo: repo, ingestor: ingestor, bus: bus, log: logger}
}

// UploadTopicKey names the progress topic for an upload task.
func UploadTopicKey(taskID string) string {
	return "upload-" + taskID
}

// Start launches an asynchronous ingest of files into the given game and
// returns the task id to watch.
func (u *Uploader) Start(ctx context.Context, gameID int64, files []UploadFile) (string, error) {
	game, err := u.repo.GetGame(ctx, gameID)
	if err != nil {
		return "", err
	}

	taskID := uuid.NewString()
	topic := u.bus.Topic(UploadTopicKey(taskID))
	go u.run(topic, game, files)
	return taskID, nil
}

func (u *Uploader) run(topic *progress.Topic, game db.Game, files []UploadFile) {
	ctx := context.Background()
	emit := func(kind string, payload any) {
		if _, err := topic.Publish(kind, payload); err != nil {
			u.log.Error("publish upload event", "game", game.ID, "kind", kind, "error", err)
		}
	}

	emit(progress.KindStatus, progress.StatusPayload{Message: "Processing upload"})

	var counters db.SessionCounters
	for _, f := range files {
		outcome, err := u.ingestor.Ingest(ctx, IngestInput{
			Data:            f.Data,
			Source:          db.SourceUpload,
			Game:            game,
			ClaimedFilename: f.Name,
		})
		if err != nil {
			u.log.Error("upload ingest", "game", game.ID, "file", f.Name, "error", err)
			counters.Failed++
			emit(progress.KindScreenshotFailed, progress.ScreenshotFailedPayload{
				GameName: game.Name,
				Error:    err.Error(),
			})
			continue
		}
		switch {
		case outcome.Completed():
			counters.Completed++
			emit(progress.KindScreenshotComplete, progress.ScreenshotCompletePayload{
				GameName:        game.Name,
				OverallProgress: counters.Completed + counters.Skipped + counters.Failed,
			})
		case outcome.Skipped():
			counters.Skipped++
			emit(progress.KindScreenshotSkipped, progress.ScreenshotSkippedPayload{
				GameName: game.Name,
				Reason:   outcome.SkipReason,
			})
		default:
			counters.Failed++
			emit(progress.KindScreenshotFailed, progress.ScreenshotFailedPayload{
				GameName: game.Name,
				Error:    outcome.FailReason,
			})
		}
	}

	emit(progress.KindImportComplete, progress.ImportCompletePayload{
		Completed:  counters.Completed,
		Skipped:    counters.Skipped,
		Failed:     counters.Failed,
		TotalGames: 1,
	})
	emit(progress.KindDone, nil)
}
