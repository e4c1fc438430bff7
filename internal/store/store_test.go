package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/williammartin/gezellig/internal/event"
)

// createTestStore creates a new SQLite log in a temp dir.
func createTestStore(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func noWait() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	assert.Equal(t, path, s.Path())
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	require.NoError(t, s.verifyPragma("journal_mode", "wal"))
	require.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	require.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	s.Close()

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestSQLite_ReadAllEmpty(t *testing.T) {
	s := createTestStore(t)

	recs, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, recs.Events)
	assert.Empty(t, recs.Events)
	assert.Empty(t, recs.Corrupt)
}

func TestSQLite_TryAppendAssignsSequentialIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e1, err := s.TryAppend(ctx, event.Queued("A", "alex"))
	require.NoError(t, err)
	e2, err := s.TryAppend(ctx, event.Queued("B", "sam"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), e1.ID)
	assert.Equal(t, int64(2), e2.ID)

	recs, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []event.Event{e1, e2}, recs.Events)
}

func TestSQLite_TryAppendConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.TryAppend(ctx, event.Queued("A", ""))
	require.NoError(t, err)

	// Simulate a writer that read the same tail and inserted first.
	_, err = s.db.Exec(`INSERT INTO events (id, type, record) VALUES (2, 'queued', '{"id":2,"type":"queued","url":"X"}')`)
	require.NoError(t, err)

	// The next attempt sees tail=2 and succeeds at 3.
	e, err := s.TryAppend(ctx, event.Queued("B", ""))
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.ID)
}

func TestSQLite_ReadAllReportsCorruptRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.TryAppend(ctx, event.Queued("A", ""))
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO events (id, type, record) VALUES (2, 'queued', 'not json')`)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO events (id, type, record) VALUES (3, 'queued', '{"id":7,"type":"queued","url":"X"}')`)
	require.NoError(t, err)
	_, err = s.TryAppend(ctx, event.Cleared())
	require.NoError(t, err)

	recs, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs.Events, 2)
	assert.Equal(t, int64(1), recs.Events[0].ID)
	assert.Equal(t, int64(4), recs.Events[1].ID)
	require.Len(t, recs.Corrupt, 2)
	assert.Contains(t, recs.Corrupt[1].Error(), "record id 7 stored at row 3")
}

func TestLog_ConcurrentWritersNeverCollide(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	// Two independent handles on the same file, as two processes would have.
	var logs []*Log
	for i := 0; i < 2; i++ {
		s, err := Open(path)
		require.NoError(t, err)
		l := New(s, WithMaxAttempts(500), WithBackOff(noWait))
		t.Cleanup(func() { l.Close() })
		logs = append(logs, l)
	}

	const perWriter = 10
	var wg sync.WaitGroup
	errs := make(chan error, 2*4*perWriter)
	for _, l := range logs {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(l *Log) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					if _, err := l.Append(ctx, event.Queued("https://track", "")); err != nil {
						errs <- err
					}
				}
			}(l)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append failed: %v", err)
	}

	events, err := logs[0].ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2*4*perWriter)

	ids := make([]int64, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	assert.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }))
	for i, id := range ids {
		assert.Equal(t, int64(i+1), id)
	}
}
