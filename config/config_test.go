package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GAMEVAULT_SECRET_KEY", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, filepath.Join("./data", "library"), cfg.LibraryDir)
	assert.Equal(t, filepath.Join("./data", "gamevault.db"), cfg.DBPath)
	assert.Equal(t, time.Second, cfg.ImportRateLimit)
	assert.EqualValues(t, 50*1024*1024, cfg.MaxUploadSize)
	assert.Equal(t, 85, cfg.ThumbnailQuality)
	assert.Equal(t, 30*24*time.Hour, cfg.TokenExpiry)
	assert.False(t, cfg.DisableAuth)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GAMEVAULT_SECRET_KEY", "s3cret")
	t.Setenv("GAMEVAULT_DATA_DIR", "/srv/gv")
	t.Setenv("GAMEVAULT_LIBRARY_DIR", "/mnt/shots")
	t.Setenv("GAMEVAULT_DB_PATH", "/srv/gv/custom.db")
	t.Setenv("GAMEVAULT_IMPORT_RATE_LIMIT_MS", "250")
	t.Setenv("GAMEVAULT_THUMBNAIL_QUALITY", "70")
	t.Setenv("GAMEVAULT_MAX_UPLOAD_SIZE_MB", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/mnt/shots", cfg.LibraryDir)
	assert.Equal(t, "/srv/gv/custom.db", cfg.DBPath)
	assert.Equal(t, 250*time.Millisecond, cfg.ImportRateLimit)
	assert.Equal(t, 70, cfg.ThumbnailQuality)
	assert.EqualValues(t, 10*1024*1024, cfg.MaxUploadSize)
}

func TestLoadRequiresSecretUnlessAuthDisabled(t *testing.T) {
	t.Setenv("GAMEVAULT_SECRET_KEY", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("GAMEVAULT_DISABLE_AUTH", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.DisableAuth)
}

func TestLoadRejectsBadQuality(t *testing.T) {
	t.Setenv("GAMEVAULT_SECRET_KEY", "s3cret")
	t.Setenv("GAMEVAULT_THUMBNAIL_QUALITY", "0")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("GAMEVAULT_THUMBNAIL_QUALITY", "101")
	_, err = Load()
	assert.Error(t, err)
}
