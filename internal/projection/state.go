package projection

import (
	"encoding/json"

	"github.com/williammartin/gezellig/internal/event"
)

// Item is a queued track that has not been resolved yet.
type Item struct {
	ID       int64  `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	QueuedBy string `json:"queuedBy,omitempty"`

	// Pending marks a local placeholder that has not reached the log.
	// Placeholders have no log id; LocalID identifies them instead.
	// The projector never sets either field.
	Pending bool   `json:"pending,omitempty"`
	LocalID string `json:"localId,omitempty"`
}

// MarshalJSON writes an unresolved title as null.
func (i Item) MarshalJSON() ([]byte, error) {
	var title *string
	if i.Title != "" {
		title = &i.Title
	}
	return json.Marshal(struct {
		ID       int64   `json:"id"`
		URL      string  `json:"url"`
		Title    *string `json:"title"`
		QueuedBy string  `json:"queuedBy,omitempty"`
		Pending  bool    `json:"pending,omitempty"`
		LocalID  string  `json:"localId,omitempty"`
	}{i.ID, i.URL, title, i.QueuedBy, i.Pending, i.LocalID})
}

// NowPlaying is the track the arbiter announced with a playing event.
type NowPlaying struct {
	Ref      int64  `json:"ref"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	QueuedBy string `json:"queuedBy,omitempty"`

	// EventID is the id of the playing event.
	EventID int64 `json:"eventId"`

	// SkipEventID is the id of the newest skip request for this track,
	// or 0 if none was made after it started.
	SkipEventID int64 `json:"skipEventId,omitempty"`
}

// SkipRequested reports whether a skip was requested after playback began.
func (n *NowPlaying) SkipRequested() bool {
	return n != nil && n.SkipEventID > n.EventID
}

// HistoryEntry is a successfully played track.
type HistoryEntry struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	QueuedBy string `json:"queuedBy,omitempty"`
}

// State is the projection of the log at some point.
// It is owned by whoever computed it and never shared between processes.
type State struct {
	Queue      []Item         `json:"queue"`
	NowPlaying *NowPlaying    `json:"nowPlaying"`
	History    []HistoryEntry `json:"history"`

	// LastID is the highest event id folded, including ignored events.
	LastID int64 `json:"lastId"`
}

// Empty returns a state with non-nil empty slices.
func Empty() State {
	return State{Queue: []Item{}, History: []HistoryEntry{}}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{
		Queue:   append([]Item{}, s.Queue...),
		History: append([]HistoryEntry{}, s.History...),
		LastID:  s.LastID,
	}
	if s.NowPlaying != nil {
		np := *s.NowPlaying
		out.NowPlaying = &np
	}
	return out
}

// Head returns the first queue item, if any.
func (s State) Head() (Item, bool) {
	if len(s.Queue) == 0 {
		return Item{}, false
	}
	return s.Queue[0], true
}

// QueueIDs returns the ids of queued items in order.
func (s State) QueueIDs() []int64 {
	ids := make([]int64, 0, len(s.Queue))
	for _, it := range s.Queue {
		ids = append(ids, it.ID)
	}
	return ids
}

// Diagnostic records an event the fold ignored and why.
type Diagnostic struct {
	EventID int64      `json:"eventId"`
	Type    event.Type `json:"type"`
	Reason  string     `json:"reason"`
}

// Result is the outcome of a fold.
type Result struct {
	State       State        `json:"state"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}
