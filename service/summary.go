package service

import (
	"context"
	"time"

	"github.com/adiuv0/gamevault/db"
)

// SessionSummary is the ready-to-render view of an import session: status,
// counters and the last fatal error, if any. The UI uses it to restore a
// progress view after reload without replaying the event stream.
type SessionSummary struct {
	ID               int64      `json:"session_id"`
	UserIDSteam      string     `json:"user_id_steam"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Completed        int64      `json:"completed"`
	Skipped          int64      `json:"skipped"`
	Failed           int64      `json:"failed"`
	TotalGames       int64      `json:"total_games"`
	TotalScreenshots int64      `json:"total_screenshots"`
	Error            string     `json:"error,omitempty"`
}

// BuildSessionSummary assembles the summary row for one session.
func BuildSessionSummary(ctx context.Context, repo db.Repo, sessionID int64) (SessionSummary, error) {
	s, err := repo.GetImportSession(ctx, sessionID)
	if err != nil {
		return SessionSummary{}, err
	}
	return SessionSummary{
		ID:               s.ID,
		UserIDSteam:      s.UserIDSteam,
		Status:           s.Status,
		StartedAt:        s.StartedAt,
		FinishedAt:       s.FinishedAt,
		Completed:        s.Completed,
		Skipped:          s.Skipped,
		Failed:           s.Failed,
		TotalGames:       s.TotalGames,
		TotalScreenshots: s.TotalScreenshots,
		Error:            s.LastError,
	}, nil
}
