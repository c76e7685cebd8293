package main

import (
	"database/sql"
	"log/slog"

	"github.com/adiuv0/gamevault/config"
	"github.com/adiuv0/gamevault/db"
	"github.com/adiuv0/gamevault/library"
	"github.com/adiuv0/gamevault/progress"
	"github.com/adiuv0/gamevault/service"
)

// Application wires every component together. Handlers hang off it;
// tests construct their own with a temporary SQLite file and a stub scraper.
type Application struct {
	Cfg      *config.Config
	DB       *sql.DB
	Repo     db.Repo
	Library  *library.Library
	Bus      *progress.Bus
	Importer *service.Importer
	Uploader *service.Uploader
	Scraper  service.Scraper
	Log      *slog.Logger
}
