package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Document binds a key to a JSON-encoded Go type. A missing key reads as Default().
type Document[T any] struct {
	Key     string
	Default func() T
}

func (d Document[T]) fallback() T {
	if d.Default != nil {
		return d.Default()
	}
	var zero T
	return zero
}

func (d Document[T]) decode(rec Record, err error) (T, int64, error) {
	if errors.Is(err, ErrNotFound) {
		return d.fallback(), 0, nil
	}
	if err != nil {
		var zero T
		return zero, 0, err
	}
	v := d.fallback()
	if err := json.Unmarshal(rec.Value, &v); err != nil {
		var zero T
		return zero, 0, fmt.Errorf("decode %s: %w", d.Key, err)
	}
	return v, rec.Version, nil
}

func (d Document[T]) Read(ctx context.Context, s Store) (T, error) {
	v, _, err := d.decode(s.Get(ctx, d.Key))
	return v, err
}

func (d Document[T]) ReadTx(tx Tx) (T, error) {
	v, _, err := d.decode(tx.Get(d.Key))
	return v, err
}

func (d Document[T]) WriteTx(tx Tx, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.Key, err)
	}
	return tx.Put(d.Key, data)
}

// Update applies fn to the current value and writes it back with a
// compare-and-swap, re-reading and retrying up to attempts times on conflict.
// If fn returns ErrUnchanged nothing is written and the value is returned as read.
func (d Document[T]) Update(ctx context.Context, s Store, attempts int, fn func(*T) error) (T, error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	var last error
	for i := 0; i < attempts; i++ {
		v, version, err := d.decode(s.Get(ctx, d.Key))
		if err != nil {
			return v, err
		}
		if err := fn(&v); err != nil {
			if errors.Is(err, ErrUnchanged) {
				return v, nil
			}
			return v, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return v, fmt.Errorf("encode %s: %w", d.Key, err)
		}
		_, err = s.CompareAndSwap(ctx, d.Key, version, data)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return v, err
		}
		last = err
	}
	var zero T
	return zero, last
}
