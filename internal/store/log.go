package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/williammartin/gezellig/internal/event"
)

// DefaultMaxAttempts bounds how many times Append races for the tail id.
const DefaultMaxAttempts = 5

// Records is the result of reading the whole log.
// Corrupt lines are reported separately so the fold can skip them.
type Records struct {
	Events  []event.Event
	Corrupt []*event.CorruptRecordError
}

// Backend is a single shared log location.
//
// TryAppend makes exactly one conditional append attempt and returns
// ErrConflict if another writer took the next id first. It must never
// produce a torn or partially visible record.
type Backend interface {
	ReadAll(ctx context.Context) (Records, error)
	TryAppend(ctx context.Context, partial event.Event) (event.Event, error)
	Close() error
}

// Option configures a Log.
type Option func(*Log)

// WithMaxAttempts sets the number of conditional append attempts.
func WithMaxAttempts(n uint) Option {
	return func(l *Log) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithBackOff sets the policy used between conflicting attempts.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(l *Log) {
		l.newBackOff = newBackOff
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// Log is the event log store shared by every client of a room.
// It is safe for concurrent use if the backend is.
type Log struct {
	backend     Backend
	maxAttempts uint
	newBackOff  func() backoff.BackOff
	logger      *slog.Logger
}

// New wraps backend with the shared retry and error policy.
func New(backend Backend, opts ...Option) *Log {
	l := &Log{
		backend:     backend,
		maxAttempts: DefaultMaxAttempts,
		newBackOff:  defaultBackOff,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

// ReadAll returns every decodable event in ascending id order.
// Corrupt records are logged and skipped.
func (l *Log) ReadAll(ctx context.Context) ([]event.Event, error) {
	recs, err := l.ReadRecords(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range recs.Corrupt {
		l.logger.Warn("skipping corrupt record", "line", c.Line, "error", c.Err)
	}
	return recs.Events, nil
}

// ReadRecords returns the full log including corrupt records.
func (l *Log) ReadRecords(ctx context.Context) (Records, error) {
	recs, err := l.backend.ReadAll(ctx)
	if err != nil {
		return Records{}, asUnavailable("read", err)
	}
	if recs.Events == nil {
		recs.Events = []event.Event{}
	}
	return recs, nil
}

// Append validates partial, assigns it the next id, and writes it.
//
// Lost races are retried up to the configured attempt count, re-reading the
// tail each time. Invalid events are rejected without touching the backend.
func (l *Log) Append(ctx context.Context, partial event.Event) (event.Event, error) {
	if partial.ID != 0 {
		return event.Event{}, fmt.Errorf("append: %w: id is assigned by the store", event.ErrInvalid)
	}
	if err := partial.Validate(); err != nil {
		return event.Event{}, fmt.Errorf("append: %w", err)
	}

	var attempts uint
	appended, err := backoff.Retry(ctx, func() (event.Event, error) {
		attempts++
		e, err := l.backend.TryAppend(ctx, partial)
		if err == nil {
			return e, nil
		}
		if errors.Is(err, ErrConflict) {
			l.logger.Debug("append conflict, retrying", "type", partial.Type, "attempt", attempts)
			return event.Event{}, err
		}
		return event.Event{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(l.newBackOff()),
		backoff.WithMaxTries(l.maxAttempts),
	)
	if err == nil {
		return appended, nil
	}

	if errors.Is(err, ErrConflict) {
		return event.Event{}, &ConflictExhaustedError{Type: partial.Type, Attempts: attempts}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return event.Event{}, fmt.Errorf("append %s: %w", partial.Type, ctxErr)
	}
	return event.Event{}, asUnavailable("append "+string(partial.Type), err)
}

// CompactReorder appends one reordered event carrying ids.
// Earlier entries are never rewritten or renumbered.
func (l *Log) CompactReorder(ctx context.Context, ids []int64) (event.Event, error) {
	return l.Append(ctx, event.Reordered(ids))
}

// Close releases the backend.
func (l *Log) Close() error {
	return l.backend.Close()
}

func asUnavailable(op string, err error) error {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	return &UnavailableError{Op: op, Err: err}
}
