package reorder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/williammartin/gezellig/internal/event"
)

type recordingLog struct {
	calls [][]int64
	err   error
}

func (r *recordingLog) CompactReorder(_ context.Context, ids []int64) (event.Event, error) {
	if r.err != nil {
		return event.Event{}, r.err
	}
	r.calls = append(r.calls, ids)
	return event.Reordered(ids).WithID(int64(10 + len(r.calls))), nil
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name        string
		current     []int64
		desired     []int64
		want        []int64
		wantChanged bool
	}{
		{"full permutation", []int64{1, 2, 3}, []int64{3, 1, 2}, []int64{3, 1, 2}, true},
		{"unchanged", []int64{1, 2, 3}, []int64{1, 2, 3}, []int64{1, 2, 3}, false},
		{"partial keeps rest after", []int64{1, 2, 3, 4}, []int64{4, 2}, []int64{4, 2, 1, 3}, true},
		{"drops ids no longer queued", []int64{2, 3}, []int64{3, 1, 2}, []int64{3, 2}, true},
		{"empty desired", []int64{1, 2}, nil, []int64{1, 2}, false},
		{"empty queue", nil, []int64{1}, []int64{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed, err := Plan(tt.current, tt.desired)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantChanged, changed)
		})
	}
}

func TestPlan_Duplicate(t *testing.T) {
	_, _, err := Plan([]int64{1, 2}, []int64{2, 2, 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateID))
}

func TestReorder_EmitsSingleEvent(t *testing.T) {
	log := &recordingLog{}
	c := New(log)

	e, ok, err := c.Reorder(context.Background(), []int64{1, 2, 3}, []int64{3, 1, 2})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, event.TypeReordered, e.Type)
	assert.Equal(t, []int64{3, 1, 2}, e.Order)
	assert.Equal(t, [][]int64{{3, 1, 2}}, log.calls)
}

func TestReorder_UnchangedAppendsNothing(t *testing.T) {
	log := &recordingLog{}
	c := New(log)

	_, ok, err := c.Reorder(context.Background(), []int64{1, 2}, []int64{1, 2})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, log.calls)
}

func TestReorder_PropagatesStoreError(t *testing.T) {
	boom := errors.New("store down")
	c := New(&recordingLog{err: boom})

	_, ok, err := c.Reorder(context.Background(), []int64{1, 2}, []int64{2, 1})
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, boom))
}

func TestMove(t *testing.T) {
	ids := []int64{1, 2, 3, 4}

	got, err := Move(ids, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 1, 2, 3}, got)

	got, err = Move(ids, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 1, 4}, got)

	assert.Equal(t, []int64{1, 2, 3, 4}, ids, "input must not be modified")

	_, err = Move(ids, 4, 0)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}
