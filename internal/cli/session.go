package cli

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/williammartin/gezellig/internal/cache"
	"github.com/williammartin/gezellig/internal/client"
	"github.com/williammartin/gezellig/internal/config"
	"github.com/williammartin/gezellig/internal/projection"
	"github.com/williammartin/gezellig/internal/push"
	"github.com/williammartin/gezellig/internal/store"
	"github.com/williammartin/gezellig/internal/store/github"
)

// session is everything a command needs to talk to a room.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	log      *store.Log
	cache    *cache.Snapshots
	notifier *push.Notifier
}

// openSession loads config, opens the configured log, and, if withCache is
// set, the snapshot cache. A cache that cannot be opened is skipped.
func (o *RootOptions) openSession(cmd *cobra.Command, withCache bool) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := o.logger(cmd.ErrOrStderr()).With("room", cfg.Room)

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open log", err)
	}

	s := &session{
		cfg:    cfg,
		logger: logger,
		log: store.New(backend,
			store.WithMaxAttempts(uint(cfg.Store.MaxAttempts)),
			store.WithLogger(logger),
		),
		notifier: push.NewNotifier(),
	}

	if withCache && cfg.Cache.Path != "" {
		snaps, err := cache.Open(cfg.Cache.Path)
		if err != nil {
			logger.Warn("running without state cache", "path", cfg.Cache.Path, "error", err)
		} else {
			s.cache = snaps
		}
	}
	return s, nil
}

func openBackend(cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		return store.Open(cfg.Store.SQLite.Path)
	case config.BackendGitHub:
		gh := cfg.Store.GitHub
		return github.New(gh.Repo, gh.Path,
			github.WithToken(gh.Token),
			github.WithAPIURL(gh.APIURL),
		), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Store.Backend)
	}
}

func (s *session) projector() *projection.Projector {
	return projection.New(projection.Options{
		HistoryCapacity: s.cfg.History.Capacity,
		OnClear:         projection.ClearPolicy(s.cfg.History.OnClear),
	})
}

func (s *session) client(opts ...client.Option) *client.Client {
	base := []client.Option{
		client.WithUser(s.cfg.User),
		client.WithRoom(s.cfg.Room),
		client.WithProjector(s.projector()),
		client.WithLogger(s.logger),
		client.WithNotifier(s.notifier),
		client.WithPollInterval(s.cfg.Poll()),
		client.WithPushRate(rate.Limit(s.cfg.Push.MaxRate), s.cfg.Push.Burst),
	}
	if s.cache != nil {
		base = append(base, client.WithCache(s.cache))
	}
	return client.New(s.log, append(base, opts...)...)
}

// sources returns the push sources enabled for the configured backend.
func (s *session) sources() []push.Source {
	var out []push.Source
	switch s.cfg.Store.Backend {
	case config.BackendSQLite:
		if s.cfg.Push.Watch {
			out = append(out, push.NewFileWatcher(s.cfg.Store.SQLite.Path, s.logger))
		}
	case config.BackendGitHub:
		if s.cfg.Push.WebhookURL != "" {
			header := http.Header{}
			if s.cfg.Store.GitHub.Token != "" {
				header.Set("Authorization", s.cfg.Store.GitHub.Token)
			}
			out = append(out, &push.WebhookListener{
				URL:    s.cfg.Push.WebhookURL,
				Repo:   s.cfg.Store.GitHub.Repo,
				Path:   s.cfg.Store.GitHub.Path,
				Header: header,
				Logger: s.logger,
			})
		}
	}
	return out
}

func (s *session) Close() {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("error closing cache", "error", err)
		}
	}
	if err := s.log.Close(); err != nil {
		s.logger.Error("error closing log", "error", err)
	}
}
