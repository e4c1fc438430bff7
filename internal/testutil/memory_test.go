package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/williammartin/gezellig/internal/event"
	"github.com/williammartin/gezellig/internal/store"
)

func TestMemoryBackend_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(event.Queued("A", "alex").WithID(1))
	log := NewLog(b)

	e, err := log.Append(ctx, event.Queued("B", "sam"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.ID)

	events, err := log.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "B", events[1].URL)
	assert.Equal(t, 1, b.Reads())
}

func TestMemoryBackend_ConflictNext(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	b.ConflictNext(2)

	e, err := NewLog(b).Append(ctx, event.Queued("A", ""))
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.ID, "two racers took ids 1 and 2")
	assert.Equal(t, 3, b.Attempts())
	assert.Len(t, b.Events(), 3)
}

func TestMemoryBackend_FailuresAreConsumedInOrder(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	boom := errors.New("boom")
	b.FailReads(1, boom)
	b.FailAppends(1, nil)
	log := NewLog(b)

	_, err := log.ReadAll(ctx)
	assert.True(t, store.IsUnavailable(err))
	assert.ErrorIs(t, err, boom)

	_, err = log.Append(ctx, event.Cleared())
	assert.ErrorIs(t, err, ErrInjected)

	_, err = log.Append(ctx, event.Cleared())
	assert.NoError(t, err)
}

func TestMemoryBackend_Heal(t *testing.T) {
	b := NewMemoryBackend()
	b.FailReads(3, nil)
	b.ConflictNext(3)
	b.Heal()

	_, err := b.ReadAll(context.Background())
	assert.NoError(t, err)
	_, err = b.TryAppend(context.Background(), event.Cleared())
	assert.NoError(t, err)
}

func TestMemoryBackend_EventsAreCopies(t *testing.T) {
	b := NewMemoryBackend(event.Reordered([]int64{1, 2}).WithID(1))
	got := b.Events()
	got[0].Order[0] = 99

	assert.Equal(t, []int64{1, 2}, b.Events()[0].Order)
}
