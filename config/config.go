package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds every runtime knob. All values come from GAMEVAULT_*
// environment variables with sensible defaults; there is no config file.
type Config struct {
	SecretKey   string
	BaseURL     string
	DataDir     string
	LibraryDir  string
	DBPath      string
	DisableAuth bool

	ImportRateLimit  time.Duration
	MaxUploadSize    int64 // bytes
	ThumbnailQuality int
	TokenExpiry      time.Duration

	// Keys for the metadata cascade (consumed outside the import core).
	SteamAPIKey       string
	SteamGridDBAPIKey string
	IGDBClientID      string
	IGDBClientSecret  string
}

// Load reads the environment once and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GAMEVAULT")
	v.AutomaticEnv()

	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("IMPORT_RATE_LIMIT_MS", 1000)
	v.SetDefault("MAX_UPLOAD_SIZE_MB", 50)
	v.SetDefault("THUMBNAIL_QUALITY", 85)
	v.SetDefault("TOKEN_EXPIRY_DAYS", 30)

	dataDir := v.GetString("DATA_DIR")

	cfg := &Config{
		SecretKey:   v.GetString("SECRET_KEY"),
		BaseURL:     v.GetString("BASE_URL"),
		DataDir:     dataDir,
		LibraryDir:  v.GetString("LIBRARY_DIR"),
		DBPath:      v.GetString("DB_PATH"),
		DisableAuth: v.GetBool("DISABLE_AUTH"),

		ImportRateLimit:  time.Duration(v.GetInt("IMPORT_RATE_LIMIT_MS")) * time.Millisecond,
		MaxUploadSize:    v.GetInt64("MAX_UPLOAD_SIZE_MB") * 1024 * 1024,
		ThumbnailQuality: v.GetInt("THUMBNAIL_QUALITY"),
		TokenExpiry:      time.Duration(v.GetInt("TOKEN_EXPIRY_DAYS")) * 24 * time.Hour,

		SteamAPIKey:       v.GetString("STEAM_API_KEY"),
		SteamGridDBAPIKey: v.GetString("STEAMGRIDDB_API_KEY"),
		IGDBClientID:      v.GetString("IGDB_CLIENT_ID"),
		IGDBClientSecret:  v.GetString("IGDB_CLIENT_SECRET"),
	}

	if cfg.LibraryDir == "" {
		cfg.LibraryDir = filepath.Join(dataDir, "library")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(dataDir, "gamevault.db")
	}
	if cfg.ThumbnailQuality < 1 || cfg.ThumbnailQuality > 100 {
		return nil, fmt.Errorf("thumbnail quality %d out of range 1-100", cfg.ThumbnailQuality)
	}
	if cfg.ImportRateLimit <= 0 {
		return nil, fmt.Errorf("import rate limit must be positive")
	}
	if !cfg.DisableAuth && cfg.SecretKey == "" {
		return nil, fmt.Errorf("GAMEVAULT_SECRET_KEY is required unless GAMEVAULT_DISABLE_AUTH is set")
	}
	return cfg, nil
}
