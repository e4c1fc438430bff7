// Package cache persists the last good projection of each room so a client
// can show something useful before, or instead of, its first successful read.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/williammartin/gezellig/internal/projection"
)

var bucketSnapshots = []byte("snapshots")

// ErrNotFound is returned by Load when no snapshot exists for a room.
var ErrNotFound = errors.New("cache: snapshot not found")

// Snapshot is the last successfully projected state of a room.
type Snapshot struct {
	State      projection.State `json:"state"`
	LastSeenID int64            `json:"last_seen_id"`
	SavedAt    time.Time        `json:"saved_at"`
}

// Snapshots is a bbolt-backed store of one Snapshot per room.
type Snapshots struct {
	db *bbolt.DB
}

// Open opens (or creates) the cache at path. bbolt holds an exclusive lock,
// so a second process opening the same file fails after a second instead of
// blocking.
func Open(path string) (*Snapshots, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: init bucket: %w", err)
	}

	return &Snapshots{db: db}, nil
}

// Save replaces the snapshot for room.
func (s *Snapshots) Save(room string, snap Snapshot) error {
	val, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache: marshal snapshot for %s: %w", room, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(room), val)
	})
}

// Load returns the snapshot for room, or ErrNotFound.
func (s *Snapshots) Load(room string) (Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketSnapshots).Get([]byte(room))
		if val == nil {
			return ErrNotFound
		}
		return json.Unmarshal(val, &snap)
	})
	if err != nil {
		return Snapshot{}, err
	}
	if snap.State.Queue == nil {
		snap.State.Queue = []projection.Item{}
	}
	if snap.State.History == nil {
		snap.State.History = []projection.HistoryEntry{}
	}
	return snap, nil
}

// Close closes the underlying bbolt database.
func (s *Snapshots) Close() error {
	return s.db.Close()
}
