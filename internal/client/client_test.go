package client

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/williammartin/gezellig/internal/cache"
	"github.com/williammartin/gezellig/internal/event"
	"github.com/williammartin/gezellig/internal/projection"
	"github.com/williammartin/gezellig/internal/push"
	"github.com/williammartin/gezellig/internal/store"
	"github.com/williammartin/gezellig/internal/testutil"
)

var epoch = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, b *testutil.MemoryBackend, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithUser("alex"),
		WithRoom("lounge"),
		WithLogger(testutil.Discard()),
		WithClock(testutil.NewClock(epoch, time.Second).Now),
	}
	return New(testutil.NewLog(b), append(base, opts...)...)
}

func playingSeed() []event.Event {
	return []event.Event{
		event.Queued("A", "sam").WithID(1),
		event.Playing(1, "Song", "A").WithID(2),
		event.Queued("B", "sam").WithID(3),
	}
}

func TestGetState_InitiallyEmpty(t *testing.T) {
	c := newTestClient(t, testutil.NewMemoryBackend())

	v := c.GetState()
	assert.Empty(t, v.Queue)
	assert.NotNil(t, v.Queue)
	assert.Nil(t, v.NowPlaying)
	assert.False(t, v.Stale)
	assert.False(t, v.Disconnected)
}

func TestRefresh_ProjectsLog(t *testing.T) {
	c := newTestClient(t, testutil.NewMemoryBackend(playingSeed()...))
	require.NoError(t, c.Refresh(context.Background()))

	v := c.GetState()
	assert.Equal(t, []int64{3}, v.QueueIDs())
	require.NotNil(t, v.NowPlaying)
	assert.Equal(t, "Song", v.NowPlaying.Title)
	assert.Equal(t, epoch, v.UpdatedAt)
}

func TestEnqueue_EchoesLocallyThenReconciles(t *testing.T) {
	ctx := context.Background()
	b := testutil.NewMemoryBackend()
	c := newTestClient(t, b)

	item, err := c.Enqueue(ctx, " https://x/1 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), item.ID)
	assert.Equal(t, "https://x/1", item.URL)
	assert.Equal(t, "alex", item.QueuedBy)

	// Visible before any read.
	assert.Equal(t, []int64{1}, c.GetState().QueueIDs())
	assert.Zero(t, b.Reads())

	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, []int64{1}, c.GetState().QueueIDs(), "echo is not duplicated")

	events := b.Events()
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeQueued, events[0].Type)
	assert.Equal(t, "alex", events[0].By)
}

func TestEnqueue_EmptyURL(t *testing.T) {
	b := testutil.NewMemoryBackend()
	c := newTestClient(t, b)

	_, err := c.Enqueue(context.Background(), "  ")
	assert.ErrorIs(t, err, event.ErrInvalid)
	assert.Zero(t, b.Attempts())
}

func TestEnqueue_UnavailableShowsPlaceholder(t *testing.T) {
	ctx := context.Background()
	b := testutil.NewMemoryBackend()
	c := newTestClient(t, b)
	b.FailAppends(1, errors.New("network down"))

	item, err := c.Enqueue(ctx, "https://x/1")
	require.NoError(t, err)
	assert.True(t, item.Pending)
	assert.NotEmpty(t, item.LocalID)
	assert.Zero(t, item.ID)

	v := c.GetState()
	require.Len(t, v.Queue, 1)
	assert.True(t, v.Queue[0].Pending)
	assert.Empty(t, b.Events(), "placeholder is never persisted")

	require.NoError(t, c.Refresh(ctx))
	assert.Empty(t, c.GetState().Queue, "placeholder reconciled away")
}

func TestEnqueue_ConflictExhaustedIsReturned(t *testing.T) {
	b := testutil.NewMemoryBackend()
	c := New(testutil.NewLog(b, store.WithMaxAttempts(2)), WithLogger(testutil.Discard()))
	b.ConflictNext(5)

	_, err := c.Enqueue(context.Background(), "https://x/1")
	require.Error(t, err)
	assert.True(t, store.IsConflictExhausted(err))
	assert.Empty(t, c.GetState().Queue, "the item is not shown")
}

func TestRefresh_FailureKeepsLastGoodState(t *testing.T) {
	ctx := context.Background()
	b := testutil.NewMemoryBackend(playingSeed()...)
	c := newTestClient(t, b)
	require.NoError(t, c.Refresh(ctx))

	b.FailReads(1, errors.New("401 bad credentials"))
	err := c.Refresh(ctx)
	require.Error(t, err)
	assert.True(t, store.IsUnavailable(err))

	v := c.GetState()
	assert.True(t, v.Stale)
	assert.False(t, v.Disconnected)
	assert.Contains(t, v.LastError, "bad credentials")
	assert.Equal(t, []int64{3}, v.QueueIDs())

	require.NoError(t, c.Refresh(ctx))
	v = c.GetState()
	assert.False(t, v.Stale)
	assert.Empty(t, v.LastError)
}

func TestRefresh_FailureWithoutAnyStateIsDisconnected(t *testing.T) {
	b := testutil.NewMemoryBackend()
	c := newTestClient(t, b)
	b.FailReads(1, nil)

	require.Error(t, c.Refresh(context.Background()))
	v := c.GetState()
	assert.True(t, v.Disconnected)
	assert.Empty(t, v.Queue)
}

func TestCache_ServedUntilFirstRefresh(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")
	snaps, err := cache.Open(path)
	require.NoError(t, err)
	defer snaps.Close()

	b := testutil.NewMemoryBackend(playingSeed()...)
	first := newTestClient(t, b, WithCache(snaps))
	require.NoError(t, first.Refresh(ctx))

	saved, err := snaps.Load("lounge")
	require.NoError(t, err)
	assert.Equal(t, int64(3), saved.LastSeenID)

	// A new process whose log is unreachable still shows the cached queue.
	b.FailReads(1, nil)
	second := newTestClient(t, b, WithCache(snaps))
	v := second.GetState()
	assert.True(t, v.Stale)
	assert.Equal(t, []int64{3}, v.QueueIDs())

	require.Error(t, second.Refresh(ctx))
	v = second.GetState()
	assert.False(t, v.Disconnected)
	assert.Equal(t, []int64{3}, v.QueueIDs())
}

func TestClear_SkipsPlayingTrackFirst(t *testing.T) {
	ctx := context.Background()
	b := testutil.NewMemoryBackend(playingSeed()...)
	c := newTestClient(t, b)
	require.NoError(t, c.Refresh(ctx))

	require.NoError(t, c.Clear(ctx))

	events := b.Events()
	require.Len(t, events, 5)
	assert.Equal(t, event.Skip(1).WithID(4), events[3])
	assert.Equal(t, event.Cleared().WithID(5), events[4])

	v := c.GetState()
	assert.Empty(t, v.Queue)
	assert.Nil(t, v.NowPlaying)
}

func TestClear_NothingPlaying(t *testing.T) {
	ctx := context.Background()
	b := testutil.NewMemoryBackend(event.Queued("A", "").WithID(1))
	c := newTestClient(t, b)
	require.NoError(t, c.Refresh(ctx))

	require.NoError(t, c.Clear(ctx))
	events := b.Events()
	require.Len(t, events, 2)
	assert.Equal(t, event.TypeCleared, events[1].Type)
}

func TestClear_FollowsHistoryPolicy(t *testing.T) {
	ctx := context.Background()
	seed := []event.Event{
		event.Queued("A", "").WithID(1),
		event.Playing(1, "Song", "A").WithID(2),
		event.Played(1).WithID(3),
		event.Queued("B", "").WithID(4),
	}

	tests := []struct {
		name    string
		policy  projection.ClearPolicy
		history int
	}{
		{"keep", projection.ClearKeepHistory, 1},
		{"purge", projection.ClearPurgeHistory, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testutil.NewMemoryBackend(seed...)
			c := newTestClient(t, b, WithProjector(projection.New(projection.Options{OnClear: tt.policy})))
			require.NoError(t, c.Refresh(ctx))
			require.Len(t, c.GetState().History, 1)

			require.NoError(t, c.Clear(ctx))
			v := c.GetState()
			assert.Empty(t, v.Queue)
			assert.Len(t, v.History, tt.history, "local state matches the next refresh")

			require.NoError(t, c.Refresh(ctx))
			assert.Len(t, c.GetState().History, tt.history)
		})
	}
}

func TestSkip(t *testing.T) {
	ctx := context.Background()

	t.Run("no-op when nothing is playing", func(t *testing.T) {
		b := testutil.NewMemoryBackend(event.Queued("A", "").WithID(1))
		c := newTestClient(t, b)
		require.NoError(t, c.Refresh(ctx))

		for i := 0; i < 3; i++ {
			ok, err := c.Skip(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
		}
		assert.Len(t, b.Events(), 1)
	})

	t.Run("targets the playing track", func(t *testing.T) {
		b := testutil.NewMemoryBackend(playingSeed()...)
		c := newTestClient(t, b)
		require.NoError(t, c.Refresh(ctx))

		ok, err := c.Skip(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		events := b.Events()
		assert.Equal(t, event.Skip(1).WithID(4), events[len(events)-1])

		np := c.GetState().NowPlaying
		require.NotNil(t, np)
		assert.True(t, np.SkipRequested())
	})
}

func TestReorder(t *testing.T) {
	ctx := context.Background()
	b := testutil.NewMemoryBackend(
		event.Queued("A", "").WithID(1),
		event.Queued("B", "").WithID(2),
		event.Queued("C", "").WithID(3),
	)
	c := newTestClient(t, b)
	require.NoError(t, c.Refresh(ctx))

	ok, err := c.Reorder(ctx, []int64{3, 1, 2})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int64{3, 1, 2}, c.GetState().QueueIDs())

	events := b.Events()
	require.Len(t, events, 4)
	assert.Equal(t, []int64{3, 1, 2}, events[3].Order)

	ok, err = c.Reorder(ctx, []int64{3, 1, 2})
	require.NoError(t, err)
	assert.False(t, ok, "unchanged order appends nothing")
	assert.Len(t, b.Events(), 4)

	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, []int64{3, 1, 2}, c.GetState().QueueIDs())
}

// gatedLog hands each ReadAll to the test, which decides when and with what
// it returns.
type gatedLog struct {
	EventLog
	reads chan chan []event.Event
}

func (g *gatedLog) ReadAll(ctx context.Context) ([]event.Event, error) {
	reply := make(chan []event.Event)
	g.reads <- reply
	return <-reply, nil
}

func TestRefresh_LastStartedWins(t *testing.T) {
	ctx := context.Background()
	g := &gatedLog{reads: make(chan chan []event.Event)}
	c := New(g, WithLogger(testutil.Discard()))

	older := make(chan error, 1)
	go func() { older <- c.Refresh(ctx) }()
	replyOld := <-g.reads

	newer := make(chan error, 1)
	go func() { newer <- c.Refresh(ctx) }()
	replyNew := <-g.reads

	replyNew <- []event.Event{event.Queued("A", "").WithID(1), event.Queued("B", "").WithID(2)}
	require.NoError(t, <-newer)

	replyOld <- []event.Event{event.Queued("A", "").WithID(1)}
	require.NoError(t, <-older)

	assert.Equal(t, []int64{1, 2}, c.GetState().QueueIDs())
}

func TestRun_RefreshesOnPush(t *testing.T) {
	b := testutil.NewMemoryBackend()
	n := push.NewNotifier()
	c := newTestClient(t, b, WithNotifier(n), WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return b.Reads() >= 1 }, 5*time.Second, 10*time.Millisecond)

	// Another process appends; only the push can reveal it before the next tick.
	_, err := b.TryAppend(context.Background(), event.Queued("https://x/remote", "sam"))
	require.NoError(t, err)
	n.Notify()

	require.Eventually(t, func() bool {
		return len(c.GetState().Queue) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRun_PollsWithoutPush(t *testing.T) {
	b := testutil.NewMemoryBackend()
	c := newTestClient(t, b, WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	_, err := b.TryAppend(context.Background(), event.Queued("https://x/remote", "sam"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(c.GetState().Queue) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRun_SurvivesReadFailures(t *testing.T) {
	b := testutil.NewMemoryBackend(event.Queued("A", "").WithID(1))
	b.FailReads(3, nil)
	c := newTestClient(t, b, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		v := c.GetState()
		return !v.Stale && len(v.Queue) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestWatch_NotifiedOnChange(t *testing.T) {
	c := newTestClient(t, testutil.NewMemoryBackend())
	sub := c.Watch()
	defer sub.Cancel()

	_, err := c.Enqueue(context.Background(), "https://x/1")
	require.NoError(t, err)

	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}
}

func TestView_EmbedsProjectionState(t *testing.T) {
	v := View{State: projection.Empty()}
	assert.NotNil(t, v.History)
}
