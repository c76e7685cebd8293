package db

import (
	"context"
	"database/sql"
	"strings"
)

type sqliteRepo struct {
	db *sql.DB
}

func NewRepo(sqldb *sql.DB) Repo {
	return &sqliteRepo{db: sqldb}
}

// isUniqueViolation detects SQLite unique-constraint failures. The modernc
// driver surfaces them as plain errors with the constraint name in the text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// -------------------- Games --------------------

const gameCols = `id, name, folder_name, steam_app_id, cover_path, is_public, created_at, updated_at`

func scanGame(row interface{ Scan(...any) error }) (Game, error) {
	var g Game
	var appID sql.NullInt64
	var isPublic int
	if err := row.Scan(&g.ID, &g.Name, &g.FolderName, &appID, &g.CoverPath, &isPublic, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return Game{}, err
	}
	if appID.Valid {
		v := appID.Int64
		g.SteamAppID = &v
	}
	g.IsPublic = isPublic == 1
	return g, nil
}

func (r *sqliteRepo) CreateGame(ctx context.Context, name string, steamAppID *int64) (Game, error) {
	base := FolderName(name)

	// Collision loop: first try the bare slug, then suffixed variants.
	for attempt := 0; attempt < maxFolderAttempts; attempt++ {
		folder := base
		if attempt > 0 {
			folder = SuffixedFolderName(base, name, attempt)
		}
		var appID any
		if steamAppID != nil {
			appID = *steamAppID
		}
		const q = `INSERT INTO games(name, folder_name, steam_app_id) VALUES(?, ?, ?);`
		res, err := r.db.ExecContext(ctx, q, name, folder, appID)
		if err != nil {
			if isUniqueViolation(err) && strings.Contains(err.Error(), "folder_name") {
				continue
			}
			return Game{}, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return Game{}, err
		}
		return r.GetGame(ctx, id)
	}
	return Game{}, errFolderExhausted
}

func (r *sqliteRepo) GetGame(ctx context.Context, id int64) (Game, error) {
	return scanGame(r.db.QueryRowContext(ctx, `SELECT `+gameCols+` FROM games WHERE id=?;`, id))
}

func (r *sqliteRepo) GetGameBySteamAppID(ctx context.Context, appID int64) (Game, error) {
	return scanGame(r.db.QueryRowContext(ctx, `SELECT `+gameCols+` FROM games WHERE steam_app_id=?;`, appID))
}

func (r *sqliteRepo) ListGames(ctx context.Context) ([]Game, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+gameCols+` FROM games ORDER BY name ASC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *sqliteRepo) DeleteGame(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM games WHERE id=?;`, id)
	return err
}

func (r *sqliteRepo) EnsureSteamGame(ctx context.Context, appID int64, name string) (Game, error) {
	g, err := r.GetGameBySteamAppID(ctx, appID)
	if err == nil {
		return g, nil
	}
	if err != ErrNoRows {
		return Game{}, err
	}
	return r.CreateGame(ctx, name, &appID)
}

// -------------------- Screenshots --------------------

func (r *sqliteRepo) InsertScreenshot(ctx context.Context, in ScreenshotInsert) (int64, error) {
	const q = `
INSERT INTO screenshots(
  game_id, filename, file_path, thumb_sm_path, thumb_md_path,
  file_size, width, height, format, taken_at,
  steam_screenshot_id, steam_description, source, file_hash, exif_data)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	var takenAt any
	if in.TakenAt != nil {
		takenAt = in.TakenAt.UTC()
	}
	var steamID, steamDesc any
	if in.SteamScreenshotID != nil {
		steamID = *in.SteamScreenshotID
	}
	if in.SteamDescription != nil {
		steamDesc = *in.SteamDescription
	}

	res, err := r.db.ExecContext(ctx, q,
		in.GameID, in.Filename, in.FilePath, in.ThumbSmPath, in.ThumbMdPath,
		in.FileSize, in.Width, in.Height, in.Format, takenAt,
		steamID, steamDesc, in.Source, in.FileHash, in.ExifData)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (r *sqliteRepo) HasScreenshotBySteamID(ctx context.Context, gameID int64, steamScreenshotID string) (bool, error) {
	const q = `SELECT 1 FROM screenshots WHERE game_id=? AND steam_screenshot_id=? LIMIT 1;`
	return r.exists(ctx, q, gameID, steamScreenshotID)
}

func (r *sqliteRepo) HasScreenshotByHash(ctx context.Context, gameID int64, fileHash string) (bool, error) {
	const q = `SELECT 1 FROM screenshots WHERE game_id=? AND file_hash=? LIMIT 1;`
	return r.exists(ctx, q, gameID, fileHash)
}

func (r *sqliteRepo) exists(ctx context.Context, q string, args ...any) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, q, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *sqliteRepo) ListScreenshotsByGame(ctx context.Context, gameID int64) ([]Screenshot, error) {
	const q = `
SELECT id, game_id, filename, file_path, thumb_sm_path, thumb_md_path,
       file_size, width, height, format, taken_at, uploaded_at,
       steam_screenshot_id, steam_description, source, file_hash, exif_data,
       is_favorite, view_count
FROM screenshots
WHERE game_id=?
ORDER BY taken_at DESC, id DESC;`
	rows, err := r.db.QueryContext(ctx, q, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Screenshot
	for rows.Next() {
		var s Screenshot
		var takenAt sql.NullTime
		var steamID, steamDesc sql.NullString
		var fav int
		if err := rows.Scan(&s.ID, &s.GameID, &s.Filename, &s.FilePath, &s.ThumbSmPath, &s.ThumbMdPath,
			&s.FileSize, &s.Width, &s.Height, &s.Format, &takenAt, &s.UploadedAt,
			&steamID, &steamDesc, &s.Source, &s.FileHash, &s.ExifData,
			&fav, &s.ViewCount); err != nil {
			return nil, err
		}
		if takenAt.Valid {
			t := takenAt.Time
			s.TakenAt = &t
		}
		if steamID.Valid {
			v := steamID.String
			s.SteamScreenshotID = &v
		}
		if steamDesc.Valid {
			v := steamDesc.String
			s.SteamDescription = &v
		}
		s.IsFavorite = fav == 1
		out = append(out, s)
	}
	return out, rows.Err()
}

// -------------------- Import sessions --------------------

func (r *sqliteRepo) CreateImportSession(ctx context.Context, userIDSteam string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO import_sessions(user_id_steam, status) VALUES(?, ?);`,
		userIDSteam, StatusRunning)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *sqliteRepo) GetImportSession(ctx context.Context, id int64) (ImportSession, error) {
	const q = `
SELECT id, user_id_steam, started_at, finished_at, status,
       completed, skipped, failed, total_games, total_screenshots, last_error
FROM import_sessions WHERE id=?;`
	var s ImportSession
	var finished sql.NullTime
	err := r.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.UserIDSteam, &s.StartedAt, &finished, &s.Status,
		&s.Completed, &s.Skipped, &s.Failed, &s.TotalGames, &s.TotalScreenshots, &s.LastError)
	if err != nil {
		return ImportSession{}, err
	}
	if finished.Valid {
		t := finished.Time
		s.FinishedAt = &t
	}
	return s, nil
}

func (r *sqliteRepo) UpdateSessionCounters(ctx context.Context, id int64, c SessionCounters) error {
	const q = `
UPDATE import_sessions
SET completed=?, skipped=?, failed=?, total_games=?, total_screenshots=?
WHERE id=? AND status=?;`
	_, err := r.db.ExecContext(ctx, q,
		c.Completed, c.Skipped, c.Failed, c.TotalGames, c.TotalScreenshots, id, StatusRunning)
	return err
}

func (r *sqliteRepo) FinishImportSession(ctx context.Context, id int64, status string, c SessionCounters, lastError string) error {
	const q = `
UPDATE import_sessions
SET status=?, finished_at=CURRENT_TIMESTAMP,
    completed=?, skipped=?, failed=?, total_games=?, total_screenshots=?, last_error=?
WHERE id=? AND status=?;`
	// The status guard makes terminal states write-once: finishing an
	// already-terminal session affects zero rows and is a no-op.
	_, err := r.db.ExecContext(ctx, q, status,
		c.Completed, c.Skipped, c.Failed, c.TotalGames, c.TotalScreenshots, lastError,
		id, StatusRunning)
	return err
}

func (r *sqliteRepo) FailInterruptedSessions(ctx context.Context) (int64, error) {
	const q = `
UPDATE import_sessions
SET status=?, finished_at=CURRENT_TIMESTAMP, last_error='interrupted by restart'
WHERE status=?;`
	res, err := r.db.ExecContext(ctx, q, StatusFailed, StatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
