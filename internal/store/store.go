// Package store persists the control panel's JSON documents with
// optimistic concurrency. Every record carries a version that increments
// on each write; writers present the version they read and lose the
// race with ErrVersionConflict instead of overwriting someone else's change.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	// ErrUnchanged may be returned from an update callback to skip the write.
	ErrUnchanged = errors.New("unchanged")
)

// Well-known document keys.
const (
	KeyState    = "current"
	KeyVotes    = "vote_results"
	KeyQueue    = "ai_queue"
	KeySongList = "ai_generated_songs"
)

type Record struct {
	Key       string `db:"name"`
	Value     []byte `db:"body"`
	Version   int64  `db:"version"`
	UpdatedAt string `db:"updated_at"`
}

// Tx is a consistent view across several keys. Put is checked against the
// version observed by Get within the same transaction.
type Tx interface {
	Get(key string) (Record, error)
	Put(key string, value []byte) error
}

type Store interface {
	Get(ctx context.Context, key string) (Record, error)
	// CompareAndSwap writes value when the stored version equals version.
	// Version 0 creates the key and fails if it already exists.
	CompareAndSwap(ctx context.Context, key string, version int64, value []byte) (Record, error)
	// Atomically runs fn in a transaction, retrying it on version conflicts.
	Atomically(ctx context.Context, fn func(Tx) error) error
	Close() error
}
