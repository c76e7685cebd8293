package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adiuv0/gamevault/config"
	dbpkg "github.com/adiuv0/gamevault/db"
	"github.com/adiuv0/gamevault/library"
	"github.com/adiuv0/gamevault/progress"
	"github.com/adiuv0/gamevault/service"
	"github.com/adiuv0/gamevault/steamweb"
)

// stubScraper satisfies service.Scraper for handler tests.
type stubScraper struct {
	profile steamweb.Profile
	games   []steamweb.GameEntry
}

func (s *stubScraper) ValidateProfile(ctx context.Context, creds steamweb.Credentials) (steamweb.Profile, error) {
	p := s.profile
	p.IsNumericID = creds.IsNumericID
	return p, nil
}

func (s *stubScraper) DiscoverGames(ctx context.Context, creds steamweb.Credentials) ([]steamweb.GameEntry, error) {
	return s.games, nil
}

func (s *stubScraper) EnumerateScreenshots(ctx context.Context, creds steamweb.Credentials, appID int64) ([]steamweb.ScreenshotRef, error) {
	return nil, nil
}

func (s *stubScraper) ResolveScreenshot(ctx context.Context, creds steamweb.Credentials, ref steamweb.ScreenshotRef) (steamweb.ScreenshotDetail, error) {
	return steamweb.ScreenshotDetail{}, nil
}

func (s *stubScraper) DownloadImage(ctx context.Context, creds steamweb.Credentials, imageURL string) ([]byte, string, error) {
	return nil, "", &steamweb.NotFoundError{URL: imageURL}
}

func testApp(t *testing.T, cfg *config.Config) (*Application, *echo.Echo) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{
			DisableAuth:      true,
			MaxUploadSize:    50 * 1024 * 1024,
			ThumbnailQuality: 85,
			ImportRateLimit:  time.Millisecond,
		}
	}

	sqlDB, err := dbpkg.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, dbpkg.ApplyMigrations(context.Background(), sqlDB))

	repo := dbpkg.NewRepo(sqlDB)
	lib := library.New(t.TempDir(), cfg.ThumbnailQuality)
	bus := progress.NewBus()
	scraper := &stubScraper{
		profile: steamweb.Profile{Valid: true, ProfileName: "Gordon"},
		games:   []steamweb.GameEntry{{AppID: 220, Name: "Half-Life 2", ScreenshotCount: 3}},
	}
	ingestor := service.NewIngestor(repo, lib)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	app := &Application{
		Cfg:      cfg,
		DB:       sqlDB,
		Repo:     repo,
		Library:  lib,
		Bus:      bus,
		Importer: service.NewImporter(repo, scraper, ingestor, bus, logger),
		Uploader: service.NewUploader(repo, ingestor, bus, logger),
		Scraper:  scraper,
		Log:      logger,
	}

	server := echo.New()
	app.registerRoutes(server)
	return app, server
}

func doJSON(t *testing.T, server *echo.Echo, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestSteamValidateEndpoint(t *testing.T) {
	_, server := testApp(t, nil)

	rec := doJSON(t, server, http.MethodPost, "/api/steam/validate",
		map[string]any{"user_id": "76561198000000001"})
	require.Equal(t, http.StatusOK, rec.Code)

	var p steamweb.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.True(t, p.Valid)
	assert.Equal(t, "Gordon", p.ProfileName)
	assert.True(t, p.IsNumericID, "17-digit ids classify as numeric")
}

func TestSteamValidateRequiresUserID(t *testing.T) {
	_, server := testApp(t, nil)
	rec := doJSON(t, server, http.MethodPost, "/api/steam/validate", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSteamGamesEndpoint(t *testing.T) {
	_, server := testApp(t, nil)

	rec := doJSON(t, server, http.MethodPost, "/api/steam/games",
		map[string]any{"user_id": "gordon"})
	require.Equal(t, http.StatusOK, rec.Code)

	var games []steamweb.GameEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &games))
	require.Len(t, games, 1)
	assert.EqualValues(t, 220, games[0].AppID)
}

func TestImportStartAndSummary(t *testing.T) {
	_, server := testApp(t, nil)

	rec := doJSON(t, server, http.MethodPost, "/api/steam/import", map[string]any{
		"user_id":       "76561198000000001",
		"game_ids":      []int64{220},
		"is_numeric_id": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	sessionID := resp["session_id"]
	require.NotZero(t, sessionID)

	// Summary endpoint reflects the session row.
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = doJSON(t, server, http.MethodGet,
			"/api/steam/import/"+jsonNumber(sessionID), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var sum service.SessionSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
		if sum.Status != dbpkg.StatusRunning {
			assert.Equal(t, dbpkg.StatusCompleted, sum.Status)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func jsonNumber(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestImportCancelUnknownSession(t *testing.T) {
	_, server := testApp(t, nil)
	rec := doJSON(t, server, http.MethodPost, "/api/steam/import/4242/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportProgressStreamsSSE(t *testing.T) {
	_, server := testApp(t, nil)

	rec := doJSON(t, server, http.MethodPost, "/api/steam/import", map[string]any{
		"user_id":  "76561198000000001",
		"game_ids": []int64{220},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodGet,
		"/api/steam/import/"+jsonNumber(resp["session_id"])+"/progress", nil)
	sseRec := httptest.NewRecorder()
	server.ServeHTTP(sseRec, req)

	body := sseRec.Body.String()
	assert.Equal(t, "text/event-stream", sseRec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, body, "event: status\n")
	assert.Contains(t, body, "event: profile_validated\n")
	assert.Contains(t, body, "event: done\n")
	// Framing: every event block is "id: N\nevent: kind\ndata: json\n\n".
	assert.Contains(t, body, "id: 1\n")
	assert.True(t, strings.HasSuffix(body, "\n\n"))
}

func TestGamesCRUD(t *testing.T) {
	_, server := testApp(t, nil)

	rec := doJSON(t, server, http.MethodPost, "/api/games", map[string]any{"name": "Portal 2"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created gameResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "portal-2", created.FolderName)

	rec = doJSON(t, server, http.MethodGet, "/api/games", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var games []gameResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &games))
	require.Len(t, games, 1)

	rec = doJSON(t, server, http.MethodDelete, "/api/games/"+jsonNumber(created.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func multipartUpload(t *testing.T, gameID string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("game_id", gameID))
	for name, data := range files {
		fw, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func uploadImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func TestUploadEndToEnd(t *testing.T) {
	app, server := testApp(t, nil)

	game, err := app.Repo.CreateGame(context.Background(), "Half-Life 2", nil)
	require.NoError(t, err)

	body, ctype := multipartUpload(t, jsonNumber(game.ID), map[string][]byte{
		"shot.jpg": uploadImage(t),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set(echo.HeaderContentType, ctype)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["task_id"])

	// The task's SSE stream ends in import_complete + done.
	req = httptest.NewRequest(http.MethodGet, "/api/upload/progress/"+resp["task_id"], nil)
	sseRec := httptest.NewRecorder()
	server.ServeHTTP(sseRec, req)
	assert.Contains(t, sseRec.Body.String(), "event: screenshot_complete\n")
	assert.Contains(t, sseRec.Body.String(), "event: done\n")

	deadline := time.Now().Add(5 * time.Second)
	for {
		shots, err := app.Repo.ListScreenshotsByGame(context.Background(), game.ID)
		require.NoError(t, err)
		if len(shots) == 1 {
			assert.Equal(t, dbpkg.SourceUpload, shots[0].Source)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("uploaded screenshot never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUploadUnknownGame(t *testing.T) {
	_, server := testApp(t, nil)

	body, ctype := multipartUpload(t, "999", map[string][]byte{"a.jpg": uploadImage(t)})
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set(echo.HeaderContentType, ctype)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{
		SecretKey:        "test-secret",
		MaxUploadSize:    1024,
		ThumbnailQuality: 85,
		ImportRateLimit:  time.Millisecond,
	}
	_, server := testApp(t, cfg)

	// No token: rejected.
	rec := doJSON(t, server, http.MethodGet, "/api/games", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token in the Authorization header.
	token := signToken(t, "test-secret", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/api/games", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Same token via ?token= for EventSource clients.
	req = httptest.NewRequest(http.MethodGet, "/api/games?token="+token, nil)
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Expired token: rejected.
	expired := signToken(t, "test-secret", time.Now().Add(-time.Hour))
	req = httptest.NewRequest(http.MethodGet, "/api/games", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+expired)
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong key: rejected.
	forged := signToken(t, "other-secret", time.Now().Add(time.Hour))
	req = httptest.NewRequest(http.MethodGet, "/api/games", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+forged)
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func signToken(t *testing.T, secret string, expiry time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": expiry.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}
