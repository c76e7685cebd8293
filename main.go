package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/adiuv0/gamevault/config"
	dbpkg "github.com/adiuv0/gamevault/db"
	"github.com/adiuv0/gamevault/library"
	"github.com/adiuv0/gamevault/progress"
	"github.com/adiuv0/gamevault/ratelimit"
	"github.com/adiuv0/gamevault/service"
	"github.com/adiuv0/gamevault/steamweb"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// 1) Open DB + apply migrations
	sqlDB, err := dbpkg.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer func(db *sql.DB) { _ = db.Close() }(sqlDB)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := dbpkg.ApplyMigrations(ctx, sqlDB); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	repo := dbpkg.NewRepo(sqlDB)
	if n, err := repo.FailInterruptedSessions(ctx); err != nil {
		log.Fatalf("fail interrupted sessions: %v", err)
	} else if n > 0 {
		logger.Warn("marked interrupted import sessions as failed", "count", n)
	}

	// 2) Domain components
	lib := library.New(cfg.LibraryDir, cfg.ThumbnailQuality)
	gate := ratelimit.New("steam", cfg.ImportRateLimit)
	scraper := steamweb.NewClient(gate, logger)
	bus := progress.NewBus()
	ingestor := service.NewIngestor(repo, lib)

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

	// 3) Echo
	server := echo.New()
	server.HideBanner = true
	server.Use(middleware.Logger())
	server.Use(middleware.Recover())

	app.registerRoutes(server)

	server.Logger.Fatal(server.Start(":8080"))
}
