package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const DefaultAttempts = 8

// SQLStore keeps records in the kv table of a SQLite or PostgreSQL database.
type SQLStore struct {
	DB       *sqlx.DB
	Attempts int
	Now      func() time.Time
}

func NewSQL(conn *sqlx.DB, attempts int) *SQLStore {
	return &SQLStore{DB: conn, Attempts: attempts}
}

func (s *SQLStore) attempts() int {
	if s.Attempts <= 0 {
		return DefaultAttempts
	}
	return s.Attempts
}

func (s *SQLStore) now() string {
	if s.Now != nil {
		return s.Now().UTC().Format(time.RFC3339Nano)
	}
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func getRecord(ctx context.Context, q sqlx.ExtContext, key string, lock bool) (Record, error) {
	query := `SELECT name, body, version, updated_at FROM kv WHERE name=?`
	if lock {
		query += ` FOR UPDATE`
	}
	var rec Record
	err := sqlx.GetContext(ctx, q, &rec, q.Rebind(query), key)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{Key: key}, ErrNotFound
	}
	if err != nil {
		return Record{Key: key}, fmt.Errorf("get %s: %w", key, err)
	}
	return rec, nil
}

func swap(ctx context.Context, ex sqlx.ExtContext, key string, version int64, value []byte, now string) (Record, error) {
	var (
		res sql.Result
		err error
	)
	if version == 0 {
		res, err = ex.ExecContext(ctx, ex.Rebind(`INSERT INTO kv(name, body, version, updated_at) VALUES (?,?,1,?) ON CONFLICT(name) DO NOTHING`),
			key, string(value), now)
	} else {
		res, err = ex.ExecContext(ctx, ex.Rebind(`UPDATE kv SET body=?, version=version+1, updated_at=? WHERE name=? AND version=?`),
			string(value), now, key, version)
	}
	if err != nil {
		return Record{}, fmt.Errorf("write %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, err
	}
	if n == 0 {
		return Record{}, fmt.Errorf("%s at version %d: %w", key, version, ErrVersionConflict)
	}
	return Record{Key: key, Value: value, Version: version + 1, UpdatedAt: now}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (Record, error) {
	return getRecord(ctx, s.DB, key, false)
}

func (s *SQLStore) CompareAndSwap(ctx context.Context, key string, version int64, value []byte) (Record, error) {
	return swap(ctx, s.DB, key, version, value, s.now())
}

func (s *SQLStore) Atomically(ctx context.Context, fn func(Tx) error) error {
	var err error
	for i := 0; i < s.attempts(); i++ {
		err = s.runTx(ctx, fn)
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func (s *SQLStore) runTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stx := &sqlTx{
		ctx:  ctx,
		tx:   tx,
		lock: s.DB.DriverName() == "postgres",
		now:  s.now(),
		seen: map[string]int64{},
	}
	if err := fn(stx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) Close() error {
	return s.DB.Close()
}

type sqlTx struct {
	ctx  context.Context
	tx   *sqlx.Tx
	lock bool
	now  string
	seen map[string]int64
}

func (t *sqlTx) Get(key string) (Record, error) {
	rec, err := getRecord(t.ctx, t.tx, key, t.lock)
	if errors.Is(err, ErrNotFound) {
		t.seen[key] = 0
		return rec, err
	}
	if err != nil {
		return rec, err
	}
	t.seen[key] = rec.Version
	return rec, nil
}

func (t *sqlTx) Put(key string, value []byte) error {
	version, ok := t.seen[key]
	if !ok {
		rec, err := t.Get(key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		version = rec.Version
	}
	rec, err := swap(t.ctx, t.tx, key, version, value, t.now)
	if err != nil {
		return err
	}
	t.seen[key] = rec.Version
	return nil
}
