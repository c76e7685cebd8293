// Package progress is the in-process event topic fed by the import engine
// and drained by SSE subscribers.
package progress

import (
	"encoding/json"
	"time"
)

// Event kinds. The wire names double as SSE event names.
const (
	KindStatus             = "status"
	KindProfileValidated   = "profile_validated"
	KindGamesDiscovered    = "games_discovered"
	KindGameStart          = "game_start"
	KindScreenshotComplete = "screenshot_complete"
	KindScreenshotSkipped  = "screenshot_skipped"
	KindScreenshotFailed   = "screenshot_failed"
	KindGameComplete       = "game_complete"
	KindGameError          = "game_error"
	KindImportComplete     = "import_complete"
	KindImportCancelled    = "import_cancelled"
	KindImportError        = "import_error"
	KindDone               = "done"
)

// IsTerminal reports whether kind may never be dropped from a lagging
// subscriber's queue. `done` is the sentinel that always comes last.
func IsTerminal(kind string) bool {
	switch kind {
	case KindImportComplete, KindImportCancelled, KindImportError, KindDone:
		return true
	}
	return false
}

// Event is one entry in a session's totally ordered stream. Payloads are
// kept as raw JSON so subscribers and the SSE adapter never re-marshal.
type Event struct {
	Seq  int64           `json:"seq"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
	At   time.Time       `json:"at"`

	synthetic bool // true for locally injected drop markers
}

// Payloads, mirroring the published event schema.

type StatusPayload struct {
	Message string `json:"message"`
}

type ProfileValidatedPayload struct {
	ProfileName string `json:"profile_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type GamesDiscoveredPayload struct {
	TotalGames       int   `json:"total_games"`
	TotalScreenshots int64 `json:"total_screenshots"`
}

type GameStartPayload struct {
	AppID int64  `json:"app_id"`
	Name  string `json:"name"`
}

type ScreenshotCompletePayload struct {
	GameName        string `json:"game_name"`
	OverallProgress int64  `json:"overall_progress"`
}

type ScreenshotSkippedPayload struct {
	GameName string `json:"game_name"`
	Reason   string `json:"reason"`
}

type ScreenshotFailedPayload struct {
	GameName string `json:"game_name"`
	Error    string `json:"error"`
}

type GameCompletePayload struct {
	AppID            int64 `json:"app_id"`
	Completed        int64 `json:"completed"`
	Skipped          int64 `json:"skipped"`
	Failed           int64 `json:"failed"`
	OverallCompleted int64 `json:"overall_completed"`
	OverallSkipped   int64 `json:"overall_skipped"`
	OverallFailed    int64 `json:"overall_failed"`
}

type GameErrorPayload struct {
	AppID int64  `json:"app_id"`
	Error string `json:"error"`
}

type ImportCompletePayload struct {
	Completed  int64 `json:"completed"`
	Skipped    int64 `json:"skipped"`
	Failed     int64 `json:"failed"`
	TotalGames int64 `json:"total_games"`
}

type ImportErrorPayload struct {
	Error string `json:"error"`
}
