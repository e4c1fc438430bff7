package event

import (
	"errors"
	"fmt"
)

// Type identifies what an event means to the projection.
type Type string

const (
	// TypeQueued adds a track to the tail of the queue.
	TypeQueued Type = "queued"

	// TypePlaying marks a queued track as the one the arbiter is playing.
	TypePlaying Type = "playing"

	// TypePlayed marks a playing track as consumed and moves it to history.
	TypePlayed Type = "played"

	// TypeFailed drops a track that could not be resolved or played.
	TypeFailed Type = "failed"

	// TypeSkip asks the arbiter to stop the referenced track.
	TypeSkip Type = "skip"

	// TypeCleared empties the queue and now-playing.
	TypeCleared Type = "cleared"

	// TypeReordered carries the desired order of queued ids.
	TypeReordered Type = "reordered"

	// TypeMetadata attaches a resolved title to a queued track.
	TypeMetadata Type = "metadata"
)

// knownTypes lists every type this version understands.
// Anything else is ignored by the projection for forward compatibility.
var knownTypes = map[Type]bool{
	TypeQueued:    true,
	TypePlaying:   true,
	TypePlayed:    true,
	TypeFailed:    true,
	TypeSkip:      true,
	TypeCleared:   true,
	TypeReordered: true,
	TypeMetadata:  true,
}

// Known reports whether t is a type this version understands.
func (t Type) Known() bool {
	return knownTypes[t]
}

// RequiresRef reports whether events of type t must reference an earlier event.
func (t Type) RequiresRef() bool {
	switch t {
	case TypePlaying, TypePlayed, TypeFailed, TypeMetadata:
		return true
	}
	return false
}

// Event is a single immutable record of the shared queue log.
//
// Field order matters: it is the order fields appear on the wire.
type Event struct {
	ID    int64   `json:"id"`
	Type  Type    `json:"type"`
	Ref   int64   `json:"ref,omitempty"`
	Title string  `json:"title,omitempty"`
	URL   string  `json:"url,omitempty"`
	By    string  `json:"by,omitempty"`
	Order []int64 `json:"order,omitempty"`
}

// ErrInvalid is wrapped by every validation failure from Validate.
var ErrInvalid = errors.New("invalid event")

// Validate checks that a partial event is well-formed enough to append.
// It does not check referential validity; that depends on the log contents
// and is the projection's job.
func (e Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalid)
	}
	if e.Ref < 0 {
		return fmt.Errorf("%w: ref must not be negative", ErrInvalid)
	}
	if e.Type.RequiresRef() && e.Ref == 0 {
		return fmt.Errorf("%w: %s requires ref", ErrInvalid, e.Type)
	}
	switch e.Type {
	case TypeQueued:
		if e.URL == "" {
			return fmt.Errorf("%w: queued requires url", ErrInvalid)
		}
	case TypeReordered:
		if len(e.Order) == 0 {
			return fmt.Errorf("%w: reordered requires order", ErrInvalid)
		}
	}
	return nil
}

// WithID returns a copy of e stamped with id.
// Order is copied so the stamped event never aliases the caller's slice.
func (e Event) WithID(id int64) Event {
	out := e
	out.ID = id
	if e.Order != nil {
		out.Order = append([]int64(nil), e.Order...)
	}
	return out
}

// Queued builds a partial queued event.
func Queued(url, by string) Event {
	return Event{Type: TypeQueued, URL: url, By: by}
}

// Playing builds a partial playing event for the queued item ref.
func Playing(ref int64, title, url string) Event {
	return Event{Type: TypePlaying, Ref: ref, Title: title, URL: url}
}

// Played builds a partial played event for the queued item ref.
func Played(ref int64) Event {
	return Event{Type: TypePlayed, Ref: ref}
}

// Failed builds a partial failed event for the queued item ref.
func Failed(ref int64) Event {
	return Event{Type: TypeFailed, Ref: ref}
}

// Skip builds a partial skip request for the queued item ref.
func Skip(ref int64) Event {
	return Event{Type: TypeSkip, Ref: ref}
}

// Cleared builds a partial cleared event.
func Cleared() Event {
	return Event{Type: TypeCleared}
}

// Reordered builds a partial reordered event carrying order.
func Reordered(order []int64) Event {
	return Event{Type: TypeReordered, Order: append([]int64(nil), order...)}
}

// Metadata builds a partial metadata event attaching title to ref.
func Metadata(ref int64, title, url string) Event {
	return Event{Type: TypeMetadata, Ref: ref, Title: title, URL: url}
}
