// Package reorder turns a local drag-reorder gesture into a single reordered
// event.
//
// The compactor never emits queued events and never renumbers anything: item
// identity stays with the original queued ids. Concurrent reorders from
// different clients resolve by log order, since the projection only honours
// the most recent reordered event.
package reorder

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/williammartin/gezellig/internal/event"
)

// ErrDuplicateID is returned when a desired order mentions an id twice.
var ErrDuplicateID = errors.New("duplicate id in order")

// ErrOutOfRange is returned by Move for an invalid position.
var ErrOutOfRange = errors.New("position out of range")

// Log is the subset of the event log the compactor needs.
type Log interface {
	CompactReorder(ctx context.Context, ids []int64) (event.Event, error)
}

// Compactor emits reordered events.
type Compactor struct {
	log Log
}

// New returns a Compactor appending to log.
func New(log Log) *Compactor {
	return &Compactor{log: log}
}

// Plan computes the full order to publish.
//
// Ids in desired that are not in current (already playing, played, or never
// queued) are dropped. Current ids missing from desired keep their relative
// order after the mentioned ones. changed is false when the result equals
// current.
func Plan(current, desired []int64) (order []int64, changed bool, err error) {
	queued := make(map[int64]bool, len(current))
	for _, id := range current {
		queued[id] = true
	}

	seen := make(map[int64]bool, len(desired))
	order = make([]int64, 0, len(current))
	for _, id := range desired {
		if seen[id] {
			return nil, false, fmt.Errorf("%w: %d", ErrDuplicateID, id)
		}
		seen[id] = true
		if queued[id] {
			order = append(order, id)
		}
	}
	for _, id := range current {
		if !seen[id] {
			order = append(order, id)
		}
	}

	return order, !slices.Equal(order, current), nil
}

// Reorder publishes desired as the new order of current.
// It returns ok=false without appending anything when the order is unchanged.
func (c *Compactor) Reorder(ctx context.Context, current, desired []int64) (e event.Event, ok bool, err error) {
	order, changed, err := Plan(current, desired)
	if err != nil {
		return event.Event{}, false, fmt.Errorf("reorder: %w", err)
	}
	if !changed {
		return event.Event{}, false, nil
	}

	e, err = c.log.CompactReorder(ctx, order)
	if err != nil {
		return event.Event{}, false, fmt.Errorf("reorder: %w", err)
	}
	return e, true, nil
}

// Move returns ids with the element at from moved to position to.
// It mirrors a single drag gesture in a list view.
func Move(ids []int64, from, to int) ([]int64, error) {
	if from < 0 || from >= len(ids) || to < 0 || to >= len(ids) {
		return nil, fmt.Errorf("%w: move %d to %d in %d items", ErrOutOfRange, from, to, len(ids))
	}
	out := slices.Clone(ids)
	id := out[from]
	out = slices.Delete(out, from, from+1)
	return slices.Insert(out, to, id), nil
}
