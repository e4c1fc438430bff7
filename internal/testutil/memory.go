// Package testutil provides in-memory fakes for the event log, the playback
// engine and the title resolver.
package testutil

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/cenkalti/backoff/v5"

	"github.com/williammartin/gezellig/internal/event"
	"github.com/williammartin/gezellig/internal/store"
)

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("injected failure")

// MemoryBackend is a store.Backend held in memory with fault injection.
// It is safe for concurrent use.
type MemoryBackend struct {
	mu        sync.Mutex
	events    []event.Event
	readErrs  []error
	writeErrs []error
	conflicts int
	reads     int
	attempts  int
}

// NewMemoryBackend returns a backend seeded with events. Seed events keep
// their ids.
func NewMemoryBackend(seed ...event.Event) *MemoryBackend {
	return &MemoryBackend{events: slices.Clone(seed)}
}

// NewLog wraps backend in a store.Log that retries without waiting and logs
// nowhere.
func NewLog(backend store.Backend, opts ...store.Option) *store.Log {
	base := []store.Option{
		store.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
		store.WithLogger(Discard()),
	}
	return store.New(backend, append(base, opts...)...)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// FailReads makes the next n ReadAll calls fail with err (ErrInjected if nil).
func (m *MemoryBackend) FailReads(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErrs = appendErrs(m.readErrs, n, err)
}

// FailAppends makes the next n TryAppend calls fail with err.
func (m *MemoryBackend) FailAppends(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErrs = appendErrs(m.writeErrs, n, err)
}

// ConflictNext makes the next n TryAppend calls lose the race: a foreign
// queued event takes the tail id before the write is attempted.
func (m *MemoryBackend) ConflictNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts += n
}

// Heal clears every pending injected failure.
func (m *MemoryBackend) Heal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErrs = nil
	m.writeErrs = nil
	m.conflicts = 0
}

// Events returns a copy of the stored events.
func (m *MemoryBackend) Events() []event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.Event, len(m.events))
	for i, e := range m.events {
		out[i] = e.WithID(e.ID)
	}
	return out
}

// Reads returns how many ReadAll calls were made.
func (m *MemoryBackend) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Attempts returns how many TryAppend calls were made.
func (m *MemoryBackend) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// ReadAll implements store.Backend.
func (m *MemoryBackend) ReadAll(ctx context.Context) (store.Records, error) {
	if err := ctx.Err(); err != nil {
		return store.Records{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if len(m.readErrs) > 0 {
		err := m.readErrs[0]
		m.readErrs = m.readErrs[1:]
		return store.Records{}, err
	}
	out := make([]event.Event, len(m.events))
	for i, e := range m.events {
		out[i] = e.WithID(e.ID)
	}
	return store.Records{Events: out}, nil
}

// TryAppend implements store.Backend.
func (m *MemoryBackend) TryAppend(ctx context.Context, partial event.Event) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if len(m.writeErrs) > 0 {
		err := m.writeErrs[0]
		m.writeErrs = m.writeErrs[1:]
		return event.Event{}, err
	}
	if m.conflicts > 0 {
		m.conflicts--
		m.events = append(m.events, event.Queued("https://example.com/racer", "racer").WithID(m.tail()+1))
		return event.Event{}, store.ErrConflict
	}

	e := partial.WithID(m.tail() + 1)
	m.events = append(m.events, e)
	return e.WithID(e.ID), nil
}

// Close implements store.Backend.
func (m *MemoryBackend) Close() error {
	return nil
}

func (m *MemoryBackend) tail() int64 {
	if len(m.events) == 0 {
		return 0
	}
	return m.events[len(m.events)-1].ID
}

func appendErrs(errs []error, n int, err error) []error {
	if err == nil {
		err = ErrInjected
	}
	for i := 0; i < n; i++ {
		errs = append(errs, err)
	}
	return errs
}
