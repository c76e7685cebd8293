package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/adiuv0/gamevault/db"
	"github.com/adiuv0/gamevault/service"
	"github.com/adiuv0/gamevault/steamweb"
)

func (app *Application) registerRoutes(server *echo.Echo) {
	api := server.Group("/api", app.requireAuth)

	api.POST("/steam/validate", app.SteamValidate)
	api.POST("/steam/games", app.SteamGames)
	api.POST("/steam/import", app.SteamImport)
	api.GET("/steam/import/:session_id", app.ImportSummary)
	api.GET("/steam/import/:session_id/progress", app.ImportProgress)
	api.POST("/steam/import/:session_id/cancel", app.ImportCancel)

	api.POST("/upload", app.Upload)
	api.GET("/upload/progress/:task_id", app.UploadProgress)

	api.GET("/games", app.ListGames)
	api.POST("/games", app.CreateGame)
	api.DELETE("/games/:id", app.DeleteGame)
}

// steamRequest is the shared body of the /api/steam endpoints. Cookies are
// optional; without them only public profiles work.
type steamRequest struct {
	UserID           string  `json:"user_id"`
	SteamLoginSecure string  `json:"steam_login_secure"`
	SessionID        string  `json:"session_id"`
	GameIDs          []int64 `json:"game_ids"`
	IsNumericID      *bool   `json:"is_numeric_id"`
}

func (r steamRequest) credentials() steamweb.Credentials {
	numeric := steamweb.ClassifyUserID(r.UserID)
	if r.IsNumericID != nil {
		numeric = *r.IsNumericID
	}
	return steamweb.Credentials{
		UserID:           r.UserID,
		IsNumericID:      numeric,
		SteamLoginSecure: r.SteamLoginSecure,
		SessionID:        r.SessionID,
	}
}

// POST /api/steam/validate
// Classifies the input id, fetches the profile page and reports what was
// found. No side effects.
func (app *Application) SteamValidate(c echo.Context) error {
	var req steamRequest
	if err := c.Bind(&req); err != nil || req.UserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}
	profile, err := app.Scraper.ValidateProfile(c.Request().Context(), req.credentials())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, profile)
}

// POST /api/steam/games
// Lists the user's games that have screenshots, with advertised counts.
func (app *Application) SteamGames(c echo.Context) error {
	var req steamRequest
	if err := c.Bind(&req); err != nil || req.UserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}
	games, err := app.Scraper.DiscoverGames(c.Request().Context(), req.credentials())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	if games == nil {
		games = []steamweb.GameEntry{}
	}
	return c.JSON(http.StatusOK, games)
}

// POST /api/steam/import
// Starts an asynchronous import session and returns its id immediately.
// 409 while a session is already running for the same user.
func (app *Application) SteamImport(c echo.Context) error {
	var req steamRequest
	if err := c.Bind(&req); err != nil || req.UserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}
	if len(req.GameIDs) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "game_ids is required"})
	}

	sessionID, err := app.Importer.Start(c.Request().Context(), req.credentials(), req.GameIDs)
	if err != nil {
		if errors.Is(err, service.ErrConflict) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]int64{"session_id": sessionID})
}

// GET /api/steam/import/:session_id
func (app *Application) ImportSummary(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad session id"})
	}
	summary, err := service.BuildSessionSummary(c.Request().Context(), app.Repo, id)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, summary)
}

// GET /api/steam/import/:session_id/progress
// SSE stream of typed import events, backlog first, then live.
func (app *Application) ImportProgress(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad session id"})
	}
	sub, err := app.Importer.Subscribe(id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return streamSSE(c, sub)
}

// POST /api/steam/import/:session_id/cancel
func (app *Application) ImportCancel(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad session id"})
	}
	if err := app.Importer.Cancel(id); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return c.NoContent(http.StatusNoContent)
}

// POST /api/upload
// Multipart upload into a game; fields files[] and game_id. Processing is
// asynchronous: watch /api/upload/progress/{task_id}.
func (app *Application) Upload(c echo.Context) error {
	if c.Request().ContentLength > app.Cfg.MaxUploadSize {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "upload too large"})
	}

	gameID, err := strconv.ParseInt(c.FormValue("game_id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "game_id is required"})
	}
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "multipart form required"})
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "no files supplied"})
	}

	files := make([]service.UploadFile, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		files = append(files, service.UploadFile{Name: fh.Filename, Data: data})
	}

	taskID, err := app.Uploader.Start(c.Request().Context(), gameID, files)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "game not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"task_id": taskID})
}

// GET /api/upload/progress/:task_id
func (app *Application) UploadProgress(c echo.Context) error {
	topic, ok := app.Bus.Lookup(service.UploadTopicKey(c.Param("task_id")))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "task not found"})
	}
	return streamSSE(c, topic.Subscribe())
}

// GET /api/games
func (app *Application) ListGames(c echo.Context) error {
	games, err := app.Repo.ListGames(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	out := make([]gameResponse, 0, len(games))
	for _, g := range games {
		out = append(out, toGameResponse(g))
	}
	return c.JSON(http.StatusOK, out)
}

type createGameRequest struct {
	Name       string `json:"name"`
	SteamAppID *int64 `json:"steam_app_id"`
}

type gameResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	FolderName string `json:"folder_name"`
	SteamAppID *int64 `json:"steam_app_id,omitempty"`
	CoverPath  string `json:"cover_path,omitempty"`
	IsPublic   bool   `json:"is_public"`
}

func toGameResponse(g db.Game) gameResponse {
	return gameResponse{
		ID:         g.ID,
		Name:       g.Name,
		FolderName: g.FolderName,
		SteamAppID: g.SteamAppID,
		CoverPath:  g.CoverPath,
		IsPublic:   g.IsPublic,
	}
}

// POST /api/games
func (app *Application) CreateGame(c echo.Context) error {
	var req createGameRequest
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}
	game, err := app.Repo.CreateGame(c.Request().Context(), req.Name, req.SteamAppID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, toGameResponse(game))
}

// DELETE /api/games/:id
// Cascades to screenshot rows; files under the game folder are left for
// the operator to reclaim.
func (app *Application) DeleteGame(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad game id"})
	}
	if err := app.Repo.DeleteGame(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}
