package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Re-export so callers can check db.ErrNoRows without importing database/sql.
var ErrNoRows = sql.ErrNoRows

// ErrDuplicate is returned when an insert loses a uniqueness race on
// (game_id, file_hash) or (game_id, steam_screenshot_id).
var ErrDuplicate = errors.New("duplicate screenshot")

// ---------- Row models (mirror the schema) ----------

type Game struct {
	ID         int64
	Name       string
	FolderName string
	SteamAppID *int64
	CoverPath  string
	IsPublic   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Screenshot struct {
	ID                int64
	GameID            int64
	Filename          string
	FilePath          string
	ThumbSmPath       string
	ThumbMdPath       string
	FileSize          int64
	Width             int
	Height            int
	Format            string
	TakenAt           *time.Time
	UploadedAt        time.Time
	SteamScreenshotID *string
	SteamDescription  *string
	Source            string
	FileHash          string
	ExifData          []byte
	IsFavorite        bool
	ViewCount         int64
}

// Screenshot sources.
const (
	SourceUpload      = "upload"
	SourceSteamImport = "steam_import"
	SourceSteamLocal  = "steam_local"
)

// Import session statuses. Running moves to exactly one terminal state.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

type ImportSession struct {
	ID               int64
	UserIDSteam      string
	StartedAt        time.Time
	FinishedAt       *time.Time
	Status           string
	Completed        int64
	Skipped          int64
	Failed           int64
	TotalGames       int64
	TotalScreenshots int64
	LastError        string
}

// SessionCounters is the counter block carried through the import engine
// and persisted onto the session row.
type SessionCounters struct {
	Completed        int64
	Skipped          int64
	Failed           int64
	TotalGames       int64
	TotalScreenshots int64
}

// ScreenshotInsert carries everything the ingest worker persists in one row.
type ScreenshotInsert struct {
	GameID            int64
	Filename          string
	FilePath          string
	ThumbSmPath       string
	ThumbMdPath       string
	FileSize          int64
	Width             int
	Height            int
	Format            string
	TakenAt           *time.Time
	SteamScreenshotID *string
	SteamDescription  *string
	Source            string
	FileHash          string
	ExifData          []byte
}

type Repo interface {
	// Games
	CreateGame(ctx context.Context, name string, steamAppID *int64) (Game, error)
	GetGame(ctx context.Context, id int64) (Game, error)
	GetGameBySteamAppID(ctx context.Context, appID int64) (Game, error)
	ListGames(ctx context.Context) ([]Game, error)
	DeleteGame(ctx context.Context, id int64) error
	// EnsureSteamGame returns the existing game for appID or creates one.
	EnsureSteamGame(ctx context.Context, appID int64, name string) (Game, error)

	// Screenshots
	InsertScreenshot(ctx context.Context, in ScreenshotInsert) (int64, error)
	HasScreenshotBySteamID(ctx context.Context, gameID int64, steamScreenshotID string) (bool, error)
	HasScreenshotByHash(ctx context.Context, gameID int64, fileHash string) (bool, error)
	ListScreenshotsByGame(ctx context.Context, gameID int64) ([]Screenshot, error)

	// Import sessions
	CreateImportSession(ctx context.Context, userIDSteam string) (int64, error)
	GetImportSession(ctx context.Context, id int64) (ImportSession, error)
	UpdateSessionCounters(ctx context.Context, id int64, c SessionCounters) error
	// FinishImportSession writes the terminal status, counters and
	// finished_at in one statement. It only applies while the row is still
	// running, making terminal states write-once.
	FinishImportSession(ctx context.Context, id int64, status string, c SessionCounters, lastError string) error
	// FailInterruptedSessions marks sessions left running by a previous
	// process (crash) as failed. Called once at startup.
	FailInterruptedSessions(ctx context.Context) (int64, error)
}
