// Package client is the caller-facing queue API of one process.
//
// A Client owns a private copy of the projected state. It refreshes that copy
// on a fixed poll interval and whenever a push notification arrives, echoes
// its own writes locally so callers see them immediately, and degrades to the
// last good state when the shared log cannot be read.
package client

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/williammartin/gezellig/internal/cache"
	"github.com/williammartin/gezellig/internal/event"
	"github.com/williammartin/gezellig/internal/projection"
	"github.com/williammartin/gezellig/internal/push"
	"github.com/williammartin/gezellig/internal/reorder"
	"github.com/williammartin/gezellig/internal/store"
)

// DefaultPollInterval is how often the log is re-read without a push.
const DefaultPollInterval = 10 * time.Second

// EventLog is the shared log as seen by a client.
type EventLog interface {
	ReadAll(ctx context.Context) ([]event.Event, error)
	Append(ctx context.Context, partial event.Event) (event.Event, error)
	CompactReorder(ctx context.Context, ids []int64) (event.Event, error)
}

// SnapshotCache persists the last good state between runs.
type SnapshotCache interface {
	Load(room string) (cache.Snapshot, error)
	Save(room string, snap cache.Snapshot) error
}

// View is what GetState returns.
type View struct {
	projection.State

	// Stale is set when the most recent refresh failed and State is the
	// last good one.
	Stale bool `json:"stale"`

	// Disconnected is set when reads are failing and there has never been
	// a good state to fall back on.
	Disconnected bool `json:"disconnected"`

	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Option configures a Client.
type Option func(*Client)

// WithUser sets the name recorded on queued events.
func WithUser(user string) Option {
	return func(c *Client) { c.user = user }
}

// WithRoom sets the cache key for this client's room.
func WithRoom(room string) Option {
	return func(c *Client) { c.room = room }
}

// WithProjector sets the projector used for every refresh.
func WithProjector(p *projection.Projector) Option {
	return func(c *Client) { c.projector = p }
}

// WithCache enables loading and saving the last good state.
func WithCache(sc SnapshotCache) Option {
	return func(c *Client) { c.cache = sc }
}

// WithNotifier subscribes Run to push notifications. Successful appends
// are announced on it as well, so other components in the process wake up.
func WithNotifier(n *push.Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

// WithPollInterval sets the poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithPushRate limits how often push notifications may trigger a read.
func WithPushRate(limit rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, burst) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithClock sets the time source for UpdatedAt and cache snapshots.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// localItem is an optimistic entry not yet confirmed by a read. It is
// dropped by the first refresh that started after it was created.
type localItem struct {
	item     projection.Item
	afterSeq uint64
}

// Client is the queue API of one process. It is safe for concurrent use.
type Client struct {
	log          EventLog
	compactor    *reorder.Compactor
	projector    *projection.Projector
	cache        SnapshotCache
	notifier     *push.Notifier
	limiter      *rate.Limiter
	logger       *slog.Logger
	now          func() time.Time
	user         string
	room         string
	session      string
	pollInterval time.Duration

	changes *push.Notifier

	mu         sync.Mutex
	seq        uint64
	appliedSeq uint64
	state      projection.State
	haveState  bool
	local      []localItem
	stale      bool
	lastErr    error
	updatedAt  time.Time

	entropyMu sync.Mutex
	entropy   io.Reader
}

// New returns a Client for log. If a cache is configured its snapshot for
// the room is served, marked stale, until the first successful refresh.
func New(log EventLog, opts ...Option) *Client {
	c := &Client{
		log:          log,
		compactor:    reorder.New(log),
		projector:    projection.New(projection.Options{}),
		limiter:      rate.NewLimiter(rate.Every(time.Second), 1),
		logger:       slog.Default(),
		now:          time.Now,
		room:         "default",
		session:      uuid.Must(uuid.NewV7()).String(),
		pollInterval: DefaultPollInterval,
		changes:      push.NewNotifier(),
		state:        projection.Empty(),
		entropy:      ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("room", c.room, "session", c.session)

	if c.cache != nil {
		snap, err := c.cache.Load(c.room)
		switch {
		case err == nil:
			c.state = snap.State
			c.haveState = true
			c.stale = true
			c.updatedAt = snap.SavedAt
			c.logger.Info("loaded cached state", "last_seen_id", snap.LastSeenID, "saved_at", snap.SavedAt)
		case errors.Is(err, cache.ErrNotFound):
		default:
			c.logger.Warn("cannot load cached state", "error", err)
		}
	}
	return c
}

// Session returns the id this client tags its log lines with.
func (c *Client) Session() string {
	return c.session
}

// Watch subscribes to changes of the view returned by GetState.
func (c *Client) Watch() *push.Subscription {
	return c.changes.Subscribe()
}

// GetState returns the current view without touching the log.
func (c *Client) GetState() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state.Clone()
	known := make(map[int64]bool, len(st.Queue))
	for _, it := range st.Queue {
		known[it.ID] = true
	}
	for _, l := range c.local {
		if l.item.Pending || !known[l.item.ID] {
			st.Queue = append(st.Queue, l.item)
		}
	}

	v := View{
		State:        st,
		Stale:        c.stale,
		Disconnected: !c.haveState && c.lastErr != nil,
		UpdatedAt:    c.updatedAt,
	}
	if c.lastErr != nil {
		v.LastError = c.lastErr.Error()
	}
	return v
}

// Refresh reads the whole log and replaces the cached state.
//
// Refresh may run concurrently with itself; the most recently started call
// that succeeds wins. On failure the cached state is kept and marked stale.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	events, err := c.log.ReadAll(ctx)
	if err != nil {
		c.mu.Lock()
		if seq > c.appliedSeq {
			c.stale = true
			c.lastErr = err
		}
		c.mu.Unlock()
		c.changes.Notify()
		return fmt.Errorf("refresh: %w", err)
	}

	res := c.projector.Project(events)
	for _, d := range res.Diagnostics {
		c.logger.Warn("ignored event", "id", d.EventID, "type", d.Type, "reason", d.Reason)
	}

	c.mu.Lock()
	if seq < c.appliedSeq {
		c.mu.Unlock()
		c.logger.Debug("discarding superseded refresh", "seq", seq)
		return nil
	}
	c.appliedSeq = seq
	c.state = res.State
	c.haveState = true
	c.stale = false
	c.lastErr = nil
	c.updatedAt = c.now()
	c.local = slices.DeleteFunc(c.local, func(l localItem) bool { return l.afterSeq < seq })
	snap := cache.Snapshot{State: res.State.Clone(), LastSeenID: res.State.LastID, SavedAt: c.updatedAt}
	c.mu.Unlock()

	c.changes.Notify()
	if c.cache != nil {
		if err := c.cache.Save(c.room, snap); err != nil {
			c.logger.Warn("cannot save cached state", "error", err)
		}
	}
	return nil
}

// Enqueue appends a queued event for url.
//
// If the log is unavailable a pending placeholder is shown locally instead
// and no error is returned; the placeholder disappears on the next
// successful refresh. Lost append races are returned to the caller.
func (c *Client) Enqueue(ctx context.Context, url string) (projection.Item, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return projection.Item{}, fmt.Errorf("enqueue: %w: empty url", event.ErrInvalid)
	}

	e, err := c.log.Append(ctx, event.Queued(url, c.user))
	switch {
	case err == nil:
		item := projection.Item{ID: e.ID, URL: e.URL, QueuedBy: e.By}
		c.addLocal(item)
		c.logger.Info("queued", "id", e.ID, "url", url)
		c.announce()
		return item, nil

	case store.IsUnavailable(err):
		item := projection.Item{URL: url, QueuedBy: c.user, Pending: true, LocalID: c.newLocalID()}
		c.addLocal(item)
		c.logger.Warn("log unavailable, showing pending placeholder", "url", url, "local_id", item.LocalID, "error", err)
		return item, nil

	default:
		return projection.Item{}, fmt.Errorf("enqueue: %w", err)
	}
}

// Clear empties the queue. A playing track is sent a skip first so the
// arbiter stops it.
func (c *Client) Clear(ctx context.Context) error {
	c.mu.Lock()
	np := c.state.NowPlaying
	c.mu.Unlock()

	if np != nil {
		if _, err := c.log.Append(ctx, event.Skip(np.Ref)); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}
	e, err := c.log.Append(ctx, event.Cleared())
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}

	c.mu.Lock()
	c.state.Queue = []projection.Item{}
	c.state.NowPlaying = nil
	if c.projector.ClearPolicy() == projection.ClearPurgeHistory {
		c.state.History = []projection.HistoryEntry{}
	}
	c.local = nil
	c.mu.Unlock()

	c.logger.Info("cleared", "id", e.ID)
	c.announce()
	return nil
}

// Skip asks the arbiter to stop the playing track. It reports false, and
// appends nothing, when nothing is playing.
func (c *Client) Skip(ctx context.Context) (bool, error) {
	c.mu.Lock()
	np := c.state.NowPlaying
	c.mu.Unlock()
	if np == nil {
		return false, nil
	}

	e, err := c.log.Append(ctx, event.Skip(np.Ref))
	if err != nil {
		return false, fmt.Errorf("skip: %w", err)
	}

	c.mu.Lock()
	if cur := c.state.NowPlaying; cur != nil && cur.Ref == np.Ref && e.ID > cur.SkipEventID {
		cur.SkipEventID = e.ID
	}
	c.mu.Unlock()

	c.logger.Info("skip requested", "id", e.ID, "ref", np.Ref)
	c.announce()
	return true, nil
}

// Reorder publishes ids as the new queue order. Ids that are no longer
// queued are dropped; it reports false when the order is unchanged.
func (c *Client) Reorder(ctx context.Context, ids []int64) (bool, error) {
	c.mu.Lock()
	current := c.state.QueueIDs()
	c.mu.Unlock()

	e, ok, err := c.compactor.Reorder(ctx, current, ids)
	if err != nil || !ok {
		return false, err
	}

	c.mu.Lock()
	rank := make(map[int64]int, len(e.Order))
	for i, id := range e.Order {
		rank[id] = i
	}
	slices.SortStableFunc(c.state.Queue, func(a, b projection.Item) int {
		ra, oka := rank[a.ID]
		rb, okb := rank[b.ID]
		switch {
		case oka && okb:
			return ra - rb
		case oka:
			return -1
		case okb:
			return 1
		}
		return 0
	})
	c.mu.Unlock()

	c.logger.Info("reordered", "id", e.ID, "order", e.Order)
	c.announce()
	return true, nil
}

// Run refreshes immediately, then on every poll tick and push notification,
// until ctx is done. Read failures are logged and never stop the loop.
func (c *Client) Run(ctx context.Context) error {
	var pushC <-chan struct{}
	if c.notifier != nil {
		sub := c.notifier.Subscribe()
		defer sub.Cancel()
		pushC = sub.C()
	}

	c.refreshLogged(ctx)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.refreshLogged(ctx)
		case <-pushC:
			if err := c.limiter.Wait(ctx); err != nil {
				return nil
			}
			c.logger.Debug("push notification, refreshing")
			c.refreshLogged(ctx)
		}
	}
}

func (c *Client) refreshLogged(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("refresh failed, serving cached state", "error", err)
	}
}

func (c *Client) addLocal(item projection.Item) {
	c.mu.Lock()
	c.local = append(c.local, localItem{item: item, afterSeq: c.seq})
	c.mu.Unlock()
	c.changes.Notify()
}

// announce tells local subscribers the log changed.
func (c *Client) announce() {
	c.changes.Notify()
	if c.notifier != nil {
		c.notifier.Notify()
	}
}

func (c *Client) newLocalID() string {
	c.entropyMu.Lock()
	defer c.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(c.now()), c.entropy).String()
}
