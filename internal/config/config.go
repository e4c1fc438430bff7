// Package config loads gezellig configuration.
//
// Values come from three layers, later ones winning: Default(), a YAML file,
// and GEZELLIG_* environment variables. Validate checks the result against an
// embedded CUE schema.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GEZELLIG_"

//go:embed schema.cue
var schemaSource []byte

// Backends.
const (
	BackendSQLite = "sqlite"
	BackendGitHub = "github"
)

// Config is the root configuration of one gezellig process.
type Config struct {
	Room         string        `yaml:"room" json:"room" env:"ROOM"`
	User         string        `yaml:"user" json:"user" env:"USER"`
	Store        StoreConfig   `yaml:"store" json:"store" envPrefix:"STORE_"`
	PollInterval string        `yaml:"poll_interval" json:"poll_interval" env:"POLL_INTERVAL"`
	Push         PushConfig    `yaml:"push" json:"push" envPrefix:"PUSH_"`
	History      HistoryConfig `yaml:"history" json:"history" envPrefix:"HISTORY_"`
	Arbiter      ArbiterConfig `yaml:"arbiter" json:"arbiter" envPrefix:"ARBITER_"`
	Cache        CacheConfig   `yaml:"cache" json:"cache" envPrefix:"CACHE_"`
}

// StoreConfig selects and configures the shared log.
type StoreConfig struct {
	Backend     string       `yaml:"backend" json:"backend" env:"BACKEND"`
	MaxAttempts int          `yaml:"max_attempts" json:"max_attempts" env:"MAX_ATTEMPTS"`
	SQLite      SQLiteConfig `yaml:"sqlite" json:"sqlite" envPrefix:"SQLITE_"`
	GitHub      GitHubConfig `yaml:"github" json:"github" envPrefix:"GITHUB_"`
}

// SQLiteConfig is a log in a SQLite file, shared by every process that can
// open it.
type SQLiteConfig struct {
	Path string `yaml:"path" json:"path" env:"PATH"`
}

// GitHubConfig is a log stored as a file in a GitHub repository.
type GitHubConfig struct {
	Repo   string `yaml:"repo" json:"repo" env:"REPO"`
	Path   string `yaml:"path" json:"path" env:"PATH"`
	Token  string `yaml:"token" json:"token" env:"TOKEN"`
	APIURL string `yaml:"api_url" json:"api_url" env:"API_URL"`
}

// PushConfig enables push sources.
type PushConfig struct {
	// Watch enables the file watcher for the sqlite backend.
	Watch bool `yaml:"watch" json:"watch" env:"WATCH"`

	// WebhookURL is a webhook relay websocket for the github backend.
	WebhookURL string `yaml:"webhook_url" json:"webhook_url" env:"WEBHOOK_URL"`

	// MaxRate is the maximum push-triggered refreshes per second.
	MaxRate float64 `yaml:"max_rate" json:"max_rate" env:"MAX_RATE"`
	Burst   int     `yaml:"burst" json:"burst" env:"BURST"`
}

// HistoryConfig controls the projected history.
type HistoryConfig struct {
	Capacity int    `yaml:"capacity" json:"capacity" env:"CAPACITY"`
	OnClear  string `yaml:"on_clear" json:"on_clear" env:"ON_CLEAR"`
}

// ArbiterConfig makes this process the room's arbiter. Exactly one process
// per room may enable it.
type ArbiterConfig struct {
	Enabled           bool     `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Player            []string `yaml:"player" json:"player" env:"PLAYER" envSeparator:" "`
	Resolver          []string `yaml:"resolver" json:"resolver" env:"RESOLVER" envSeparator:" "`
	IdleInterval      string   `yaml:"idle_interval" json:"idle_interval" env:"IDLE_INTERVAL"`
	SkipCheckInterval string   `yaml:"skip_check_interval" json:"skip_check_interval" env:"SKIP_CHECK_INTERVAL"`
	Volume            float64  `yaml:"volume" json:"volume" env:"VOLUME"`
	Lookahead         int      `yaml:"lookahead" json:"lookahead" env:"LOOKAHEAD"`
}

// CacheConfig locates the last-good-state cache. An empty path disables it.
type CacheConfig struct {
	Path string `yaml:"path" json:"path" env:"PATH"`
}

// Default returns a Config for a local SQLite room with no arbiter.
func Default() *Config {
	return &Config{
		Room: "default",
		Store: StoreConfig{
			Backend:     BackendSQLite,
			MaxAttempts: 5,
			SQLite:      SQLiteConfig{Path: "gezellig.db"},
			GitHub: GitHubConfig{
				Path:   "queue.ndjson",
				APIURL: "https://api.github.com",
			},
		},
		PollInterval: "10s",
		Push: PushConfig{
			Watch:   true,
			MaxRate: 1,
			Burst:   1,
		},
		History: HistoryConfig{
			Capacity: 50,
			OnClear:  "keep",
		},
		Arbiter: ArbiterConfig{
			Player:            []string{"mpv", "--no-video", "--really-quiet", "--volume={volume}", "{url}"},
			Resolver:          []string{"yt-dlp", "--get-title", "--no-playlist", "--no-warnings", "{url}"},
			IdleInterval:      "5s",
			SkipCheckInterval: "2s",
			Volume:            1,
			Lookahead:         2,
		},
		Cache: CacheConfig{Path: "gezellig-cache.db"},
	}
}

// Load overlays the YAML file at path and then the environment on Default().
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays GEZELLIG_* variables. Unset variables leave fields as
// they are.
func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	if cfg.Store.GitHub.Token == "" {
		cfg.Store.GitHub.Token = firstEnv("GH_TOKEN", "GITHUB_TOKEN")
	}
	if cfg.User == "" {
		cfg.User = os.Getenv("USER")
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks cfg against the schema. It returns the first problem found.
func (c *Config) Validate() error {
	cctx := cuecontext.New()
	schema := cctx.CompileBytes(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: schema: %w", err)
	}

	normalized := *c
	if normalized.Arbiter.Player == nil {
		normalized.Arbiter.Player = []string{}
	}
	if normalized.Arbiter.Resolver == nil {
		normalized.Arbiter.Resolver = []string{}
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	value := cctx.CompileBytes(data)
	if err := value.Err(); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	for name, s := range map[string]string{
		"poll_interval":               c.PollInterval,
		"arbiter.idle_interval":       c.Arbiter.IdleInterval,
		"arbiter.skip_check_interval": c.Arbiter.SkipCheckInterval,
	} {
		if d, err := time.ParseDuration(s); err != nil || d <= 0 {
			return fmt.Errorf("config: %s must be a positive duration, got %q", name, s)
		}
	}
	return nil
}

// Poll returns the poll interval. Call Validate first.
func (c *Config) Poll() time.Duration {
	return parseDuration(c.PollInterval)
}

// Idle returns the arbiter idle interval.
func (a ArbiterConfig) Idle() time.Duration {
	return parseDuration(a.IdleInterval)
}

// SkipCheck returns the arbiter skip check interval.
func (a ArbiterConfig) SkipCheck() time.Duration {
	return parseDuration(a.SkipCheckInterval)
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
