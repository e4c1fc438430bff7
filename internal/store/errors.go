package store

import (
	"errors"
	"fmt"

	"github.com/williammartin/gezellig/internal/event"
)

// ErrConflict is returned by a Backend when another writer claimed the id it
// tried to append at. Log retries these.
var ErrConflict = errors.New("append conflict")

// UnavailableError reports a transient read or write failure of the backend.
// Callers degrade to cached state; it is never fatal.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// ConflictExhaustedError reports that Append lost the race for the tail id
// on every attempt. The event was not written.
type ConflictExhaustedError struct {
	Type     event.Type
	Attempts uint
}

func (e *ConflictExhaustedError) Error() string {
	return fmt.Sprintf("append %s: conflict persisted after %d attempts", e.Type, e.Attempts)
}

func (e *ConflictExhaustedError) Unwrap() error {
	return ErrConflict
}

// IsUnavailable reports whether err is or wraps an *UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// IsConflictExhausted reports whether err is or wraps a *ConflictExhaustedError.
func IsConflictExhausted(err error) bool {
	var ce *ConflictExhaustedError
	return errors.As(err, &ce)
}
