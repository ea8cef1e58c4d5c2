package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papernav/internal/config"
	"papernav/internal/domain"
)

func withConfigPath(t *testing.T, path string) {
	t.Helper()
	prev, prevBackend := configPath, backendFlag
	configPath, backendFlag = path, ""
	t.Cleanup(func() { configPath, backendFlag = prev, prevBackend })
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	withConfigPath(t, filepath.Join(t.TempDir(), "config.yaml"))

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.Backend.BaseURL)
}

func TestLoadConfig_BackendOverride(t *testing.T) {
	withConfigPath(t, filepath.Join(t.TempDir(), "config.yaml"))

	backendFlag = "http://example.test:9000/"
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://example.test:9000", cfg.Backend.BaseURL)

	backendFlag = "example.test"
	_, err = loadConfig()
	assert.Error(t, err)
}

func TestUserError(t *testing.T) {
	err := userError(&domain.ValidationError{Field: "file", Reason: "Please select a PDF file first."})
	assert.EqualError(t, err, "Please select a PDF file first.")

	rerr := &domain.RequestError{Op: "upload", StatusCode: 500}
	err = userError(rerr)
	assert.True(t, errors.As(err, &rerr))
	assert.Contains(t, err.Error(), "backend upload failed")

	assert.Equal(t, domain.ErrNotReady, userError(domain.ErrNotReady))
}

func TestRunWizard_WritesConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	withConfigPath(t, cfgPath)

	answers := strings.Join([]string{
		srv.URL + "/",
		"3", // plain
		"y",
		filepath.Join(dir, "t.db"),
		"n",
	}, "\n") + "\n"
	var out bytes.Buffer
	require.NoError(t, runWizard(strings.NewReader(answers), &out))
	assert.Contains(t, out.String(), "Backend reachable")

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, cfg.Backend.BaseURL)
	assert.Equal(t, "plain", cfg.UI.Mode)
	assert.True(t, cfg.Transcript.Enabled)
	assert.Equal(t, filepath.Join(dir, "t.db"), cfg.Transcript.DBPath)
	assert.False(t, cfg.Channels.Telegram.Enabled)
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	src := t.TempDir()
	cfgFile := filepath.Join(src, "config.yaml")
	dbFile := filepath.Join(src, "transcript.db")
	require.NoError(t, os.WriteFile(cfgFile, []byte("ui:\n  mode: plain\n"), 0o600))
	require.NoError(t, os.WriteFile(dbFile, []byte("sqlite bytes"), 0o600))

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	require.NoError(t, createTarGz(archive, []string{dbFile, cfgFile}))

	dst := t.TempDir()
	restored, err := extractTarGz(archive, filepath.Join(dst, "data", "t.db"), filepath.Join(dst, "config.yaml"))
	require.NoError(t, err)
	assert.Len(t, restored, 2)

	data, err := os.ReadFile(filepath.Join(dst, "data", "t.db"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite bytes", string(data))
	data, err = os.ReadFile(filepath.Join(dst, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "mode: plain")
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.5 KB", humanSize(1536))
	assert.Equal(t, "2.0 MB", humanSize(2<<20))
}

func TestConfigSet_CreatesMissingFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	withConfigPath(t, cfgPath)

	cmd := configCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"set", "channels.telegram.token", "123:abc"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), cfgPath)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Channels.Telegram.Token)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.Backend.BaseURL)
}
