package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/williammartin/gezellig/internal/arbiter"
	"github.com/williammartin/gezellig/internal/player"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Arbiter bool
	Watch   bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Follow the room's queue, and play it if this is the arbiter",
		Long: `Keep a live view of the room's queue.

serve polls the shared log, listens for push notifications, and keeps the
last good state in the local cache. With --arbiter (or arbiter.enabled in the
config) it also plays the queue. Exactly one process per room may do so;
running two arbiters against the same log plays every track twice.

Examples:
  gezellig serve
  gezellig serve --arbiter --watch
  gezellig serve --config ./lounge.yaml --log-format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Arbiter, "arbiter", false, "act as this room's arbiter (overrides config)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "print the queue whenever it changes")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	s, err := opts.openSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.Arbiter {
		s.cfg.Arbiter.Enabled = true
		if err := s.cfg.Validate(); err != nil {
			return WrapExitError(ExitCommandError, "invalid config", err)
		}
	}

	var arb *arbiter.Arbiter
	if s.cfg.Arbiter.Enabled {
		if arb, err = newArbiter(s); err != nil {
			return WrapExitError(ExitCommandError, "failed to start arbiter", err)
		}
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			s.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	c := s.client()
	s.logger.Info("serving room", "backend", s.cfg.Store.Backend, "user", s.cfg.User, "session", c.Session())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(ctx) })

	for _, src := range s.sources() {
		g.Go(func() error {
			if err := src.Run(ctx, s.notifier); err != nil {
				// Polling keeps running without push.
				s.logger.Warn("push source stopped", "error", err)
			}
			return nil
		})
	}

	if arb != nil {
		g.Go(func() error { return arb.Run(ctx) })
	}

	if opts.Watch {
		out := opts.formatter(cmd)
		sub := c.Watch()
		g.Go(func() error {
			defer sub.Cancel()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-sub.C():
					if err := out.View(c.GetState()); err != nil {
						return err
					}
				}
			}
		})
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Serving. Press Ctrl-C to stop.")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "serve error", err)
	}

	s.logger.Info("stopped")
	return nil
}

func newArbiter(s *session) (*arbiter.Arbiter, error) {
	engine, err := player.NewCommand(s.cfg.Arbiter.Player, s.logger)
	if err != nil {
		return nil, err
	}
	engine.SetVolume(player.Volume(s.cfg.Arbiter.Volume))

	var resolver player.Resolver = player.URLResolver{}
	if len(s.cfg.Arbiter.Resolver) > 0 {
		if resolver, err = player.NewTitleResolver(s.cfg.Arbiter.Resolver); err != nil {
			return nil, err
		}
	}

	wake := s.notifier.Subscribe()
	return arbiter.New(s.log, engine, resolver,
		arbiter.WithProjector(s.projector()),
		arbiter.WithLogger(s.logger.With("component", "arbiter")),
		arbiter.WithIdleInterval(s.cfg.Arbiter.Idle()),
		arbiter.WithSkipCheckInterval(s.cfg.Arbiter.SkipCheck()),
		arbiter.WithLookahead(s.cfg.Arbiter.Lookahead),
		arbiter.WithWakeup(wake.C()),
		arbiter.WithNotifier(s.notifier),
	), nil
}
