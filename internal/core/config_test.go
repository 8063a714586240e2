package core

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `port: 9090
logLevel: DEBUG
applicationId: org.example.camera
storage:
  cacheDir: ` + filepath.Join(tmpDir, "cache") + `
  filesDir: ` + filepath.Join(tmpDir, "files") + `
grants:
  type: redis
  address: localhost:6379
  ttl: 90s
permission:
  mode: grant
  timeout: 30s
display:
  - name: OrientationCommand
    orientation: landscape
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, config.Port)
	assert.Equal(t, slog.LevelDebug, config.SlogLevel())
	assert.Equal(t, "org.example.camera.provider", config.Authority, "authority is derived from the application id")
	assert.Equal(t, 90*time.Second, config.Grants.TTL)
	assert.Equal(t, 30*time.Second, config.Permission.Timeout)
	assert.Equal(t, filepath.Join(tmpDir, "files", "images"), config.ImagesDir())
	assert.Equal(t, filepath.Join(tmpDir, "permissions.db"), config.Database.ConnectionString)
	require.Len(t, config.Display, 1)
	assert.Equal(t, "landscape", config.Display[0].Params["orientation"])
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	config, err := LoadConfig("/path/that/does/not/exist/config.yaml")
	assert.Error(t, err)
	assert.Nil(t, config)
}

func TestParseConfig_ExpandsEnvironment(t *testing.T) {
	t.Setenv("IMAGECAPTURE_TEST_PORT", "7070")
	config, err := ParseConfig([]byte("port: ${IMAGECAPTURE_TEST_PORT}\n"))
	require.NoError(t, err)
	assert.Equal(t, 7070, config.Port)
}

func TestParseConfig_Defaults(t *testing.T) {
	config, err := ParseConfig([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Port)
	assert.Equal(t, "prompt", config.Permission.Mode)
	assert.Equal(t, 2*time.Minute, config.Permission.Timeout)
	assert.Equal(t, "browser", config.Capture.Mode)
	assert.Equal(t, "memory", config.Grants.Type)
	assert.Equal(t, 5*time.Minute, config.Grants.TTL)
	assert.Equal(t, appDirName, filepath.Base(config.Storage.CacheDir))
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "port: [1"},
		{"port out of range", "port: 70000"},
		{"unknown log level", "logLevel: verbose"},
		{"unknown permission mode", "permission:\n  mode: ask"},
		{"short prompt timeout", "permission:\n  timeout: 10ms"},
		{"unknown capture mode", "capture:\n  mode: webcam"},
		{"unknown database", "database:\n  type: postgres"},
		{"redis without address", "grants:\n  type: redis"},
		{"short ttl", "grants:\n  ttl: 10ms"},
		{"empty command name", "display:\n  - width: 10"},
		{"duplicate command", "display:\n  - name: PixelScaleCommand\n  - name: PixelScaleCommand"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_RepositoryConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("IMAGECAPTURE_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("IMAGECAPTURE_FILES_DIR", "")
	t.Setenv("IMAGECAPTURE_DB", "")

	config, err := LoadConfig(filepath.Join("..", "..", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "cache"), config.Storage.CacheDir)
	assert.NotEmpty(t, config.Storage.FilesDir, "empty variables fall back to defaults")
	assert.NotEmpty(t, config.Database.ConnectionString)
	assert.Len(t, config.Display, 2)
}
