// Package arbiter turns queued items into actual playback.
//
// Exactly one arbiter may run per room. Nothing here enforces that: two
// arbiters on the same log will both consume the queue. Which process is the
// arbiter is decided by configuration.
//
// The arbiter is a loop over three phases:
//
//	Idle     read the log; if nothing is playing and the queue is non-empty,
//	         take the head
//	Loading  resolve the title, start the engine, append playing
//	Playing  wait for completion, an engine error, a skip request or a clear
//
// Outcomes are written back to the log as played or failed events. No
// failure stops the loop.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/williammartin/gezellig/internal/event"
	"github.com/williammartin/gezellig/internal/player"
	"github.com/williammartin/gezellig/internal/projection"
	"github.com/williammartin/gezellig/internal/store"
)

// Defaults for the arbiter's timers.
const (
	DefaultIdleInterval      = 5 * time.Second
	DefaultSkipCheckInterval = 2 * time.Second
	DefaultRecordTimeout     = time.Minute
	DefaultResolveTimeout    = 30 * time.Second
	DefaultLookahead         = 2
)

// EventLog is the subset of the log the arbiter uses.
type EventLog interface {
	ReadAll(ctx context.Context) ([]event.Event, error)
	Append(ctx context.Context, partial event.Event) (event.Event, error)
}

// Notifier is told whenever the arbiter appends to the log.
type Notifier interface {
	Notify()
}

// Phase is the arbiter's current state.
type Phase int32

const (
	Idle Phase = iota
	Loading
	Playing
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Playing:
		return "playing"
	default:
		return "unknown"
	}
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithProjector sets the projector used to read the queue.
func WithProjector(p *projection.Projector) Option {
	return func(a *Arbiter) { a.projector = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Arbiter) { a.logger = logger }
}

// WithIdleInterval sets how often an idle arbiter re-reads the log.
func WithIdleInterval(d time.Duration) Option {
	return func(a *Arbiter) {
		if d > 0 {
			a.idleInterval = d
		}
	}
}

// WithSkipCheckInterval sets how often the log is read during playback.
func WithSkipCheckInterval(d time.Duration) Option {
	return func(a *Arbiter) {
		if d > 0 {
			a.skipCheckInterval = d
		}
	}
}

// WithWakeup makes the arbiter re-read the log whenever c fires, in
// addition to its timers.
func WithWakeup(c <-chan struct{}) Option {
	return func(a *Arbiter) { a.wakeup = c }
}

// WithLookahead sets how many upcoming items get their title resolved
// ahead of playback. Zero disables it.
func WithLookahead(n int) Option {
	return func(a *Arbiter) {
		if n >= 0 {
			a.lookahead = n
		}
	}
}

// WithNotifier announces every event the arbiter appends on n, so other
// components in the process see them without waiting for a poll.
func WithNotifier(n Notifier) Option {
	return func(a *Arbiter) { a.notifier = n }
}

// WithResolveTimeout bounds a single title lookup.
func WithResolveTimeout(d time.Duration) Option {
	return func(a *Arbiter) {
		if d > 0 {
			a.resolveTimeout = d
		}
	}
}

// WithRecordBackOff sets the retry policy for outcome events that could
// not be written because the log was unavailable.
func WithRecordBackOff(newBackOff func() backoff.BackOff, timeout time.Duration) Option {
	return func(a *Arbiter) {
		a.newBackOff = newBackOff
		if timeout > 0 {
			a.recordTimeout = timeout
		}
	}
}

// Arbiter drives the playback engine from the shared queue.
type Arbiter struct {
	log               EventLog
	engine            player.Engine
	resolver          player.Resolver
	projector         *projection.Projector
	logger            *slog.Logger
	idleInterval      time.Duration
	skipCheckInterval time.Duration
	recordTimeout     time.Duration
	resolveTimeout    time.Duration
	lookahead         int
	wakeup            <-chan struct{}
	notifier          Notifier
	newBackOff        func() backoff.BackOff

	phase atomic.Int32

	// annotating is set while a lookahead pass runs in the background.
	annotating atomic.Bool
	annotators sync.WaitGroup

	mu        sync.Mutex
	annotated map[int64]bool
}

// New returns an Arbiter. It does nothing until Run or Step is called.
func New(log EventLog, engine player.Engine, resolver player.Resolver, opts ...Option) *Arbiter {
	a := &Arbiter{
		log:               log,
		engine:            engine,
		resolver:          resolver,
		projector:         projection.New(projection.Options{}),
		logger:            slog.Default(),
		idleInterval:      DefaultIdleInterval,
		skipCheckInterval: DefaultSkipCheckInterval,
		recordTimeout:     DefaultRecordTimeout,
		resolveTimeout:    DefaultResolveTimeout,
		lookahead:         DefaultLookahead,
		newBackOff:        func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		annotated:         make(map[int64]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.resolver == nil {
		a.resolver = player.URLResolver{}
	}
	return a
}

// Phase returns the current phase.
func (a *Arbiter) Phase() Phase {
	return Phase(a.phase.Load())
}

func (a *Arbiter) setPhase(p Phase) {
	if old := Phase(a.phase.Swap(int32(p))); old != p {
		a.logger.Debug("arbiter phase", "from", old, "to", p)
	}
}

// Run loops until ctx is done. It returns nil on cancellation, after any
// background title lookups have finished.
func (a *Arbiter) Run(ctx context.Context) error {
	a.logger.Warn("acting as playback arbiter; exactly one arbiter may run per room")
	defer a.annotators.Wait()
	for {
		progressed := a.Step(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if progressed {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.idleInterval):
		case <-a.wakeup:
		}
	}
}

// Step makes one decision from Idle. If it starts a track it blocks until
// that track's outcome is recorded. It reports whether the log moved on.
func (a *Arbiter) Step(ctx context.Context) bool {
	a.setPhase(Idle)
	st, ok := a.read(ctx)
	if !ok {
		return false
	}

	// Nothing of ours is playing, so this one was left by an arbiter that
	// went away mid-track.
	if np := st.NowPlaying; np != nil {
		a.logger.Warn("releasing track left playing", "ref", np.Ref, "url", np.URL)
		_, err := a.record(ctx, event.Failed(np.Ref))
		return err == nil
	}

	item, ok := st.Head()
	if !ok {
		return false
	}
	if len(st.Queue) > 1 {
		a.lookaheadAsync(ctx, st.Queue[1:])
	}
	return a.play(ctx, item)
}

func (a *Arbiter) play(ctx context.Context, item projection.Item) bool {
	a.setPhase(Loading)
	logger := a.logger.With("ref", item.ID, "url", item.URL)

	title := item.Title
	if title == "" {
		t, err := a.resolve(ctx, item.URL)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			return a.fail(ctx, &PlaybackError{Ref: item.ID, URL: item.URL, Stage: StageResolve, Err: err})
		}
		title = t
	}

	pb, err := a.engine.Start(ctx, item.URL)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		return a.fail(ctx, &PlaybackError{Ref: item.ID, URL: item.URL, Stage: StageStart, Err: err})
	}

	started, err := a.record(ctx, event.Playing(item.ID, title, item.URL))
	if err != nil {
		// Without a playing event nobody can skip or see this track.
		_ = pb.Stop()
		logger.Error("cannot announce playback, stopped", "error", err)
		return false
	}

	a.setPhase(Playing)
	logger.Info("playing", "title", title, "event_id", started.ID)
	a.watch(ctx, item, started.ID, pb, logger)
	return true
}

// watch blocks until the track started by playingID ends one way or another.
func (a *Arbiter) watch(ctx context.Context, item projection.Item, playingID int64, pb player.Playback, logger *slog.Logger) {
	ticker := time.NewTicker(a.skipCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = pb.Stop()
			logger.Info("arbiter stopping, playback abandoned")
			return

		case err := <-pb.Done():
			if err != nil {
				a.fail(ctx, &PlaybackError{Ref: item.ID, URL: item.URL, Stage: StagePlayback, Err: err})
				return
			}
			if _, err := a.record(ctx, event.Played(item.ID)); err != nil {
				logger.Error("cannot record played", "error", err)
				return
			}
			logger.Info("played")
			return

		case <-ticker.C:
		case <-a.wakeup:
		}

		st, ok := a.read(ctx)
		if !ok {
			continue
		}

		np := st.NowPlaying
		if np == nil || np.EventID != playingID {
			_ = pb.Stop()
			logger.Info("playback interrupted by clear")
			return
		}
		if np.SkipRequested() {
			_ = pb.Stop()
			<-pb.Done()
			if _, err := a.record(ctx, event.Played(item.ID)); err != nil {
				logger.Error("cannot record skipped track", "error", err)
				return
			}
			logger.Info("skipped", "skip_event_id", np.SkipEventID)
			return
		}

		a.lookaheadAsync(ctx, st.Queue)
	}
}

// lookaheadAsync starts annotate for queue in the background unless a pass
// is already running. Title lookups never hold up playback or skip checks.
func (a *Arbiter) lookaheadAsync(ctx context.Context, queue []projection.Item) {
	if a.lookahead == 0 || !a.annotating.CompareAndSwap(false, true) {
		return
	}
	window := slices.Clone(queue[:min(len(queue), a.lookahead)])
	a.annotators.Add(1)
	go func() {
		defer a.annotators.Done()
		defer a.annotating.Store(false)
		a.annotate(ctx, window)
	}()
}

// annotate resolves titles of queued items that have none and appends
// metadata events for them. Each item is attempted once.
func (a *Arbiter) annotate(ctx context.Context, queue []projection.Item) {
	for _, item := range queue {
		if ctx.Err() != nil {
			return
		}
		if item.Title != "" || !a.claim(item.ID) {
			continue
		}
		title, err := a.resolve(ctx, item.URL)
		if err != nil {
			a.logger.Debug("lookahead resolve failed", "ref", item.ID, "url", item.URL, "error", err)
			continue
		}
		if _, err := a.log.Append(ctx, event.Metadata(item.ID, title, item.URL)); err != nil {
			a.logger.Debug("cannot append metadata", "ref", item.ID, "error", err)
			continue
		}
		a.notify()
	}
}

func (a *Arbiter) resolve(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.resolveTimeout)
	defer cancel()
	return a.resolver.Resolve(ctx, url)
}

func (a *Arbiter) notify() {
	if a.notifier != nil {
		a.notifier.Notify()
	}
}

func (a *Arbiter) claim(id int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.annotated[id] {
		return false
	}
	a.annotated[id] = true
	return true
}

func (a *Arbiter) read(ctx context.Context) (projection.State, bool) {
	events, err := a.log.ReadAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("arbiter cannot read log", "error", err)
		}
		return projection.State{}, false
	}
	return a.projector.Project(events).State, true
}

// fail records a failed event for perr and reports whether it was written.
func (a *Arbiter) fail(ctx context.Context, perr *PlaybackError) bool {
	a.logger.Warn("playback failed", "ref", perr.Ref, "url", perr.URL, "stage", perr.Stage, "error", perr.Err)
	if _, err := a.record(ctx, event.Failed(perr.Ref)); err != nil {
		a.logger.Error("cannot record failed", "ref", perr.Ref, "error", err)
		return false
	}
	return true
}

// record appends e, retrying while the log is unavailable, and announces it.
func (a *Arbiter) record(ctx context.Context, e event.Event) (event.Event, error) {
	out, err := backoff.Retry(ctx, func() (event.Event, error) {
		out, err := a.log.Append(ctx, e)
		if err != nil && !store.IsUnavailable(err) {
			return event.Event{}, backoff.Permanent(err)
		}
		if err != nil {
			a.logger.Debug("log unavailable, retrying", "type", e.Type, "ref", e.Ref, "error", err)
		}
		return out, err
	},
		backoff.WithBackOff(a.newBackOff()),
		backoff.WithMaxElapsedTime(a.recordTimeout),
	)
	if err == nil {
		a.notify()
	}
	return out, err
}

// Stage is where in the pipeline a PlaybackError happened.
type Stage string

const (
	StageResolve  Stage = "resolve"
	StageStart    Stage = "start"
	StagePlayback Stage = "playback"
)

// PlaybackError is an external failure while turning an item into sound.
// The arbiter records the item as failed and moves on.
type PlaybackError struct {
	Ref   int64
	URL   string
	Stage Stage
	Err   error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback %s %s: %v", e.Stage, e.URL, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

// IsPlaybackError reports whether err is or wraps a *PlaybackError.
func IsPlaybackError(err error) bool {
	var pe *PlaybackError
	return errors.As(err, &pe)
}
