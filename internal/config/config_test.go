package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gezellig.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.Poll())
	assert.Equal(t, 5*time.Second, cfg.Arbiter.Idle())
	assert.Equal(t, 2*time.Second, cfg.Arbiter.SkipCheck())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("USER", "alex")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "alex", cfg.User, "user falls back to $USER")
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
room: lounge
user: sam
store:
  backend: github
  github:
    repo: owner/queue
poll_interval: 30s
history:
  on_clear: purge
arbiter:
  enabled: true
  player: [ffplay, -nodisp, -autoexit, "{url}"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "lounge", cfg.Room)
	assert.Equal(t, "sam", cfg.User)
	assert.Equal(t, BackendGitHub, cfg.Store.Backend)
	assert.Equal(t, "owner/queue", cfg.Store.GitHub.Repo)
	assert.Equal(t, "queue.ndjson", cfg.Store.GitHub.Path, "unset keys keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Poll())
	assert.Equal(t, "purge", cfg.History.OnClear)
	assert.True(t, cfg.Arbiter.Enabled)
	assert.Equal(t, []string{"ffplay", "-nodisp", "-autoexit", "{url}"}, cfg.Arbiter.Player)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "room: lounge\nstore:\n  max_attempts: 3\n")
	t.Setenv("GEZELLIG_ROOM", "kitchen")
	t.Setenv("GEZELLIG_STORE_MAX_ATTEMPTS", "7")
	t.Setenv("GEZELLIG_STORE_SQLITE_PATH", "/tmp/q.db")
	t.Setenv("GEZELLIG_ARBITER_ENABLED", "true")
	t.Setenv("GEZELLIG_ARBITER_PLAYER", "mpv --no-video {url}")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kitchen", cfg.Room)
	assert.Equal(t, 7, cfg.Store.MaxAttempts)
	assert.Equal(t, "/tmp/q.db", cfg.Store.SQLite.Path)
	assert.True(t, cfg.Arbiter.Enabled)
	assert.Equal(t, []string{"mpv", "--no-video", "{url}"}, cfg.Arbiter.Player)
}

func TestLoad_TokenFallsBackToGitHubEnv(t *testing.T) {
	t.Setenv("GEZELLIG_STORE_GITHUB_TOKEN", "")
	t.Setenv("GH_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "ghp_fallback")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ghp_fallback", cfg.Store.GitHub.Token)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("GEZELLIG_STORE_MAX_ATTEMPTS", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "room: [unclosed"))
	assert.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "s3" }},
		{"zero attempts", func(c *Config) { c.Store.MaxAttempts = 0 }},
		{"github without repo", func(c *Config) { c.Store.Backend = BackendGitHub }},
		{"github repo without owner", func(c *Config) {
			c.Store.Backend = BackendGitHub
			c.Store.GitHub.Repo = "queue"
		}},
		{"sqlite without path", func(c *Config) { c.Store.SQLite.Path = "" }},
		{"room with spaces", func(c *Config) { c.Room = "living room" }},
		{"bad poll interval", func(c *Config) { c.PollInterval = "ten seconds" }},
		{"zero poll interval", func(c *Config) { c.PollInterval = "0s" }},
		{"bad clear policy", func(c *Config) { c.History.OnClear = "archive" }},
		{"zero history", func(c *Config) { c.History.Capacity = 0 }},
		{"volume above one", func(c *Config) { c.Arbiter.Volume = 1.5 }},
		{"arbiter without player", func(c *Config) {
			c.Arbiter.Enabled = true
			c.Arbiter.Player = nil
		}},
		{"webhook over http", func(c *Config) { c.Push.WebhookURL = "http://relay" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_AcceptsWebhook(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = BackendGitHub
	cfg.Store.GitHub.Repo = "owner/queue"
	cfg.Push.WebhookURL = "wss://relay.example/hooks"
	assert.NoError(t, cfg.Validate())
}
