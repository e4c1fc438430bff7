// Package projection folds the shared queue log into application state.
//
// Project is a pure function of its input: the same events always produce the
// same state and diagnostics. Events are processed in ascending id order;
// invalid references, duplicates and unknown types never abort the fold.
package projection

import (
	"fmt"
	"slices"
	"sort"

	"github.com/williammartin/gezellig/internal/event"
)

// DefaultHistoryCapacity bounds history when no capacity is configured.
const DefaultHistoryCapacity = 50

// ClearPolicy decides what a cleared event does to history.
type ClearPolicy string

const (
	// ClearKeepHistory leaves history untouched on cleared.
	ClearKeepHistory ClearPolicy = "keep"

	// ClearPurgeHistory empties history on cleared.
	ClearPurgeHistory ClearPolicy = "purge"
)

// Options configures a Projector.
type Options struct {
	// HistoryCapacity is the maximum history length. Zero means default.
	HistoryCapacity int

	// OnClear selects the history policy for cleared events. Empty means keep.
	OnClear ClearPolicy
}

// Projector folds events into State.
type Projector struct {
	capacity int
	onClear  ClearPolicy
}

// New returns a Projector with the given options.
func New(opts Options) *Projector {
	p := &Projector{capacity: opts.HistoryCapacity, onClear: opts.OnClear}
	if p.capacity <= 0 {
		p.capacity = DefaultHistoryCapacity
	}
	if p.onClear == "" {
		p.onClear = ClearKeepHistory
	}
	return p
}

// ClearPolicy returns what a cleared event does to history.
func (p *Projector) ClearPolicy() ClearPolicy {
	return p.onClear
}

// fold is the mutable state of one Project call.
type fold struct {
	p       *Projector
	state   State
	reorder []int64
	diags   []Diagnostic
}

// Project folds events into state. The input slice is not modified.
func (p *Projector) Project(events []event.Event) Result {
	sorted := slices.Clone(events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	f := &fold{p: p, state: Empty()}
	var prev int64
	for _, e := range sorted {
		if e.ID <= 0 {
			f.ignore(e, "missing id")
			continue
		}
		if e.ID == prev {
			f.ignore(e, fmt.Sprintf("duplicate id %d", e.ID))
			continue
		}
		prev = e.ID
		f.state.LastID = e.ID
		f.apply(e)
	}
	f.applyReorder()

	return Result{State: f.state, Diagnostics: f.diags}
}

func (f *fold) apply(e event.Event) {
	switch e.Type {
	case event.TypeQueued:
		if e.URL == "" {
			f.ignore(e, "queued without url")
			return
		}
		f.state.Queue = append(f.state.Queue, Item{ID: e.ID, URL: e.URL, QueuedBy: e.By})

	case event.TypeMetadata:
		if i := f.indexOf(e.Ref); i >= 0 {
			f.state.Queue[i].Title = e.Title
			return
		}
		if np := f.state.NowPlaying; np != nil && np.Ref == e.Ref && np.Title == "" {
			np.Title = e.Title
			return
		}
		f.ignore(e, fmt.Sprintf("ref %d is not queued", e.Ref))

	case event.TypePlaying:
		i := f.indexOf(e.Ref)
		if i < 0 {
			f.ignore(e, fmt.Sprintf("ref %d is not queued", e.Ref))
			return
		}
		item := f.state.Queue[i]
		f.state.Queue = slices.Delete(f.state.Queue, i, i+1)
		if f.state.NowPlaying != nil {
			f.ignore(e, fmt.Sprintf("replaces unresolved playing ref %d", f.state.NowPlaying.Ref))
		}
		np := &NowPlaying{
			Ref:      item.ID,
			Title:    e.Title,
			URL:      e.URL,
			QueuedBy: item.QueuedBy,
			EventID:  e.ID,
		}
		if np.Title == "" {
			np.Title = item.Title
		}
		if np.URL == "" {
			np.URL = item.URL
		}
		f.state.NowPlaying = np

	case event.TypePlayed:
		if np := f.state.NowPlaying; np != nil && np.Ref == e.Ref {
			f.remember(HistoryEntry{URL: np.URL, Title: np.Title, QueuedBy: np.QueuedBy})
			f.state.NowPlaying = nil
			return
		}
		if i := f.indexOf(e.Ref); i >= 0 {
			item := f.state.Queue[i]
			f.state.Queue = slices.Delete(f.state.Queue, i, i+1)
			f.remember(HistoryEntry{URL: item.URL, Title: item.Title, QueuedBy: item.QueuedBy})
			return
		}
		f.ignore(e, fmt.Sprintf("ref %d is not queued or playing", e.Ref))

	case event.TypeFailed:
		if np := f.state.NowPlaying; np != nil && np.Ref == e.Ref {
			f.state.NowPlaying = nil
			return
		}
		if i := f.indexOf(e.Ref); i >= 0 {
			f.state.Queue = slices.Delete(f.state.Queue, i, i+1)
			return
		}
		f.ignore(e, fmt.Sprintf("ref %d is not queued or playing", e.Ref))

	case event.TypeSkip:
		// A hint for the arbiter only. Ref 0 targets whatever is playing.
		np := f.state.NowPlaying
		if np == nil || (e.Ref != 0 && e.Ref != np.Ref) {
			return
		}
		np.SkipEventID = e.ID

	case event.TypeCleared:
		f.state.Queue = f.state.Queue[:0]
		f.state.NowPlaying = nil
		f.reorder = nil
		if f.p.onClear == ClearPurgeHistory {
			f.state.History = f.state.History[:0]
		}

	case event.TypeReordered:
		f.reorder = e.Order

	default:
		// Unknown types are ignored for forward compatibility.
	}
}

// applyReorder sorts the queue by the most recent reordered event.
// Mentioned ids come first in the given order; the rest keep their
// relative order after them. Ids that are no longer queued are skipped.
func (f *fold) applyReorder() {
	if len(f.reorder) == 0 || len(f.state.Queue) == 0 {
		return
	}
	rank := make(map[int64]int, len(f.reorder))
	for i, id := range f.reorder {
		if _, seen := rank[id]; !seen {
			rank[id] = i
		}
	}
	key := func(it Item) int {
		if r, ok := rank[it.ID]; ok {
			return r
		}
		return len(f.reorder)
	}
	sort.SliceStable(f.state.Queue, func(i, j int) bool {
		return key(f.state.Queue[i]) < key(f.state.Queue[j])
	})
}

func (f *fold) remember(h HistoryEntry) {
	f.state.History = append(f.state.History, h)
	if over := len(f.state.History) - f.p.capacity; over > 0 {
		f.state.History = slices.Delete(f.state.History, 0, over)
	}
}

func (f *fold) indexOf(id int64) int {
	for i, it := range f.state.Queue {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (f *fold) ignore(e event.Event, reason string) {
	f.diags = append(f.diags, Diagnostic{EventID: e.ID, Type: e.Type, Reason: reason})
}
