package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/adiuv0/gamevault/db"
	"github.com/adiuv0/gamevault/progress"
	"github.com/adiuv0/gamevault/steamweb"
)

// ErrConflict is returned by Start while a session is already running for
// the same Steam user.
var ErrConflict = errors.New("an import session is already running for this user")

// ErrSessionNotFound is returned for cancel/subscribe on unknown sessions.
var ErrSessionNotFound = errors.New("import session not found")

// cancelWait bounds how long Cancel blocks for the worker to observe the
// flag. The worst case is one in-flight image download plus one ingest.
const cancelWait = 5 * time.Second

// Scraper is the engine's view of steamweb.Client; tests substitute stubs.
type Scraper interface {
	ValidateProfile(ctx context.Context, creds steamweb.Credentials) (steamweb.Profile, error)
	DiscoverGames(ctx context.Context, creds steamweb.Credentials) ([]steamweb.GameEntry, error)
	EnumerateScreenshots(ctx context.Context, creds steamweb.Credentials, appID int64) ([]steamweb.ScreenshotRef, error)
	ResolveScreenshot(ctx context.Context, creds steamweb.Credentials, ref steamweb.ScreenshotRef) (steamweb.ScreenshotDetail, error)
	DownloadImage(ctx context.Context, creds steamweb.Credentials, imageURL string) ([]byte, string, error)
}

// Importer orchestrates import sessions: one running session per Steam
// user, serial games and screenshots within a session, events out through
// the progress bus.
type Importer struct {
	repo     db.Repo
	scraper  Scraper
	ingestor *Ingestor
	bus      *progress.Bus
	log      *slog.Logger

	mu      sync.Mutex
	running map[string]*session // keyed by user_id_steam
	byID    map[int64]*session
}

type session struct {
	id     int64
	userID string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewImporter(repo db.Repo, scraper Scraper, ingestor *Ingestor, bus *progress.Bus, logger *slog.Logger) *Importer {
	return &Importer{
		repo:     repo,
		scraper:  scraper,
		ingestor: ingestor,
		bus:      bus,
		log:      logger,
		running:  make(map[string]*session),
		byID:     make(map[int64]*session),
	}
}

// TopicKey names the progress topic for a session.
func TopicKey(sessionID int64) string {
	return "import-" + strconv.FormatInt(sessionID, 10)
}

// Start creates the session row and launches the worker. It returns
// immediately with the session id.
func (im *Importer) Start(ctx context.Context, creds steamweb.Credentials, selectedAppIDs []int64) (int64, error) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if _, busy := im.running[creds.UserID]; busy {
		return 0, ErrConflict
	}

	id, err := im.repo.CreateImportSession(ctx, creds.UserID)
	if err != nil {
		return 0, fmt.Errorf("create import session: %w", err)
	}

	// Create the topic before the worker starts so a subscriber arriving
	// right after Start always finds it.
	im.bus.Topic(TopicKey(id))

	runCtx, cancel := context.WithCancel(context.Background())
	sess := &session{id: id, userID: creds.UserID, cancel: cancel, done: make(chan struct{})}
	im.running[creds.UserID] = sess
	im.byID[id] = sess

	go im.run(runCtx, sess, creds, selectedAppIDs)
	return id, nil
}

// Cancel flips the session's cancellation flag and waits (bounded) for the
// worker to observe it. Cancelling an already-finished session is a no-op.
func (im *Importer) Cancel(sessionID int64) error {
	im.mu.Lock()
	sess, ok := im.byID[sessionID]
	im.mu.Unlock()
	if !ok {
		// Finished or never existed; consult storage to distinguish.
		if _, err := im.repo.GetImportSession(context.Background(), sessionID); err != nil {
			return ErrSessionNotFound
		}
		return nil
	}

	sess.cancel()
	select {
	case <-sess.done:
	case <-time.After(cancelWait):
		// Cancellation is latched; the worker will observe it at its next
		// suspension point.
	}
	return nil
}

// Subscribe attaches to the session's event stream, replaying backlog
// before live events.
func (im *Importer) Subscribe(sessionID int64) (*progress.Subscription, error) {
	topic, ok := im.bus.Lookup(TopicKey(sessionID))
	if !ok {
		return nil, ErrSessionNotFound
	}
	return topic.Subscribe(), nil
}

// ---------------- worker ----------------

type sessionFatal struct {
	msg string
	err error
}

func (e *sessionFatal) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (im *Importer) run(ctx context.Context, sess *session, creds steamweb.Credentials, selectedAppIDs []int64) {
	defer func() {
		im.mu.Lock()
		delete(im.running, sess.userID)
		delete(im.byID, sess.id)
		im.mu.Unlock()
		close(sess.done)
	}()

	topic := im.bus.Topic(TopicKey(sess.id))
	emit := func(kind string, payload any) {
		if _, err := topic.Publish(kind, payload); err != nil {
			im.log.Error("publish import event", "session", sess.id, "kind", kind, "error", err)
		}
	}

	counters := db.SessionCounters{}
	fatal := im.runSession(ctx, sess, creds, selectedAppIDs, emit, &counters)

	// Terminal event + sentinel, then the write-once status row. Storage
	// work here uses a fresh context: the session one may be cancelled.
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var status, lastError string
	switch {
	case fatal != nil:
		status = db.StatusFailed
		lastError = fatal.Error()
		emit(progress.KindImportError, progress.ImportErrorPayload{Error: fatal.Error()})
	case ctx.Err() != nil:
		status = db.StatusCancelled
		emit(progress.KindImportCancelled, struct{}{})
	default:
		status = db.StatusCompleted
		emit(progress.KindImportComplete, progress.ImportCompletePayload{
			Completed:  counters.Completed,
			Skipped:    counters.Skipped,
			Failed:     counters.Failed,
			TotalGames: counters.TotalGames,
		})
	}
	emit(progress.KindDone, nil)

	if err := im.repo.FinishImportSession(persistCtx, sess.id, status, counters, lastError); err != nil {
		im.log.Error("persist terminal session state", "session", sess.id, "error", err)
	}
	im.log.Info("import session finished",
		"session", sess.id, "user", sess.userID, "status", status,
		"completed", counters.Completed, "skipped", counters.Skipped, "failed", counters.Failed)
}

// runSession drives the session to its natural end. A non-nil return is a
// session-fatal failure; a nil return with ctx cancelled means cancelled;
// nil otherwise means completed.
func (im *Importer) runSession(
	ctx context.Context,
	sess *session,
	creds steamweb.Credentials,
	selectedAppIDs []int64,
	emit func(string, any),
	counters *db.SessionCounters,
) *sessionFatal {
	emit(progress.KindStatus, progress.StatusPayload{Message: "Starting"})

	profile, err := im.scraper.ValidateProfile(ctx, creds)
	if err != nil {
		return im.classifyFatal(ctx, err, "profile validation failed")
	}
	if ctx.Err() != nil {
		return nil
	}
	if !profile.Valid {
		return &sessionFatal{msg: "profile validation failed: " + profile.Error}
	}
	emit(progress.KindProfileValidated, progress.ProfileValidatedPayload{
		ProfileName: profile.ProfileName,
		AvatarURL:   profile.AvatarURL,
	})

	discovered, err := im.scraper.DiscoverGames(ctx, creds)
	if err != nil {
		return im.classifyFatal(ctx, err, "game discovery failed")
	}

	selected := make(map[int64]struct{}, len(selectedAppIDs))
	for _, id := range selectedAppIDs {
		selected[id] = struct{}{}
	}
	var games []steamweb.GameEntry
	for _, g := range discovered {
		if _, ok := selected[g.AppID]; ok {
			games = append(games, g)
		}
	}

	counters.TotalGames = int64(len(games))
	for _, g := range games {
		// Advertised counts; Steam may under-report, so overall_progress
		// can legitimately pass this total.
		counters.TotalScreenshots += int64(g.ScreenshotCount)
	}
	emit(progress.KindGamesDiscovered, progress.GamesDiscoveredPayload{
		TotalGames:       len(games),
		TotalScreenshots: counters.TotalScreenshots,
	})

	for _, entry := range games {
		if ctx.Err() != nil {
			return nil
		}
		game, err := im.repo.EnsureSteamGame(ctx, entry.AppID, entry.Name)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &sessionFatal{msg: "storage failure", err: err}
		}
		emit(progress.KindGameStart, progress.GameStartPayload{AppID: entry.AppID, Name: entry.Name})

		gameCounts, fatal := im.runGame(ctx, creds, entry, game, emit, counters)
		if fatal != nil {
			return fatal
		}
		emit(progress.KindGameComplete, progress.GameCompletePayload{
			AppID:            entry.AppID,
			Completed:        gameCounts.Completed,
			Skipped:          gameCounts.Skipped,
			Failed:           gameCounts.Failed,
			OverallCompleted: counters.Completed,
			OverallSkipped:   counters.Skipped,
			OverallFailed:    counters.Failed,
		})
		if err := im.repo.UpdateSessionCounters(ctx, sess.id, *counters); err != nil && ctx.Err() == nil {
			im.log.Warn("update session counters", "session", sess.id, "error", err)
		}
	}
	return nil
}

// runGame processes one game's screenshots serially. A non-nil fatal aborts
// the session; per-game failures are reported via game_error and absorbed.
func (im *Importer) runGame(
	ctx context.Context,
	creds steamweb.Credentials,
	entry steamweb.GameEntry,
	game db.Game,
	emit func(string, any),
	counters *db.SessionCounters,
) (db.SessionCounters, *sessionFatal) {
	var gameCounts db.SessionCounters

	refs, err := im.scraper.EnumerateScreenshots(ctx, creds, entry.AppID)
	if err != nil {
		if ctx.Err() != nil {
			return gameCounts, nil
		}
		if steamweb.IsAuthRequired(err) {
			return gameCounts, &sessionFatal{msg: "auth_required"}
		}
		// Retries are exhausted inside the scraper; the whole game is
		// unreachable but the session continues.
		emit(progress.KindGameError, progress.GameErrorPayload{AppID: entry.AppID, Error: err.Error()})
		return gameCounts, nil
	}

	for _, ref := range refs {
		// Never start a new screenshot after observing cancellation.
		if ctx.Err() != nil {
			return gameCounts, nil
		}

		outcome, fatal := im.importOne(ctx, creds, entry, game, ref)
		if fatal != nil {
			return gameCounts, fatal
		}
		if outcome == nil {
			// Cancellation interrupted the item mid-flight.
			return gameCounts, nil
		}
		switch {
		case outcome.Completed():
			counters.Completed++
			gameCounts.Completed++
			emit(progress.KindScreenshotComplete, progress.ScreenshotCompletePayload{
				GameName:        entry.Name,
				OverallProgress: counters.Completed + counters.Skipped + counters.Failed,
			})
		case outcome.Skipped():
			counters.Skipped++
			gameCounts.Skipped++
			emit(progress.KindScreenshotSkipped, progress.ScreenshotSkippedPayload{
				GameName: entry.Name,
				Reason:   outcome.SkipReason,
			})
		default:
			counters.Failed++
			gameCounts.Failed++
			emit(progress.KindScreenshotFailed, progress.ScreenshotFailedPayload{
				GameName: entry.Name,
				Error:    outcome.FailReason,
			})
		}
	}
	return gameCounts, nil
}

// importOne resolves, downloads and ingests a single screenshot. A nil
// outcome with nil fatal means cancellation interrupted the item.
func (im *Importer) importOne(
	ctx context.Context,
	creds steamweb.Credentials,
	entry steamweb.GameEntry,
	game db.Game,
	ref steamweb.ScreenshotRef,
) (*IngestOutcome, *sessionFatal) {
	detail, err := im.scraper.ResolveScreenshot(ctx, creds, ref)
	if err != nil {
		return im.classifyItem(ctx, err)
	}

	data, _, err := im.scraper.DownloadImage(ctx, creds, detail.ImageURL)
	if err != nil {
		return im.classifyItem(ctx, err)
	}

	steamID := ref.SteamScreenshotID
	var desc *string
	if detail.Description != "" {
		d := detail.Description
		desc = &d
	}
	outcome, err := im.ingestor.Ingest(ctx, IngestInput{
		Data:              data,
		Source:            db.SourceSteamImport,
		Game:              game,
		ClaimedFilename:   entry.Name + "_" + ref.SteamScreenshotID + ".jpg",
		SteamScreenshotID: &steamID,
		SteamDescription:  desc,
		TakenAt:           detail.TakenAt,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, &sessionFatal{msg: "ingest failure", err: err}
	}
	return &outcome, nil
}

// classifyItem maps a scraper error on one screenshot to an outcome:
// auth is session-fatal, cancellation ends the item silently, everything
// else (parse, 404, exhausted retries) fails just this screenshot.
func (im *Importer) classifyItem(ctx context.Context, err error) (*IngestOutcome, *sessionFatal) {
	if ctx.Err() != nil {
		return nil, nil
	}
	if steamweb.IsAuthRequired(err) {
		return nil, &sessionFatal{msg: "auth_required"}
	}
	return &IngestOutcome{FailReason: err.Error()}, nil
}

// classifyFatal maps an error from a session-level step.
func (im *Importer) classifyFatal(ctx context.Context, err error, msg string) *sessionFatal {
	if ctx.Err() != nil {
		return nil
	}
	if steamweb.IsAuthRequired(err) {
		return &sessionFatal{msg: "auth_required"}
	}
	return &sessionFatal{msg: msg, err: err}
}
