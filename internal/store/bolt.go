// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// =============================================================================
// BOLT BACKEND
// =============================================================================

// boltBackend keeps each collection in its own bucket of a single file.
type boltBackend struct {
	db *bolt.DB
}

// OpenBolt returns an Opener for a bbolt database at path. Buckets for every
// collection are created when the file is opened.
func OpenBolt(path string) Opener {
	return func(ctx context.Context) (Backend, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, fmt.Errorf("open bolt database: %w", err)
		}
		err = db.Update(func(tx *bolt.Tx) error {
			for _, c := range Collections {
				if _, err := tx.CreateBucketIfNotExists([]byte(c)); err != nil {
					return fmt.Errorf("create bucket %s: %w", c, err)
				}
			}
			return nil
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &boltBackend{db: db}, nil
	}
}

func (b *boltBackend) bucket(tx *bolt.Tx, op string, c Collection) (*bolt.Bucket, error) {
	bk := tx.Bucket([]byte(c))
	if bk == nil {
		return nil, newError(KindStorageMissing, op, c, "", fmt.Errorf("bucket %q missing", c))
	}
	return bk, nil
}

func (b *boltBackend) Get(ctx context.Context, c Collection, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bk, err := b.bucket(tx, "get", c)
		if err != nil {
			return err
		}
		v := bk.Get([]byte(key))
		if v == nil {
			return newError(KindNotFound, "get", c, key, nil)
		}
		// Values are only valid for the life of the transaction.
		out = cloneBytes(v)
		return nil
	})
	return out, err
}

func (b *boltBackend) Put(ctx context.Context, c Collection, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bk, err := b.bucket(tx, "put", c)
		if err != nil {
			return err
		}
		return bk.Put([]byte(key), value)
	})
}

func (b *boltBackend) Add(ctx context.Context, c Collection, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bk, err := b.bucket(tx, "add", c)
		if err != nil {
			return err
		}
		if bk.Get([]byte(key)) != nil {
			return newError(KindExists, "add", c, key, nil)
		}
		return bk.Put([]byte(key), value)
	})
}

func (b *boltBackend) Delete(ctx context.Context, c Collection, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bk, err := b.bucket(tx, "delete", c)
		if err != nil {
			return err
		}
		return bk.Delete([]byte(key))
	})
}

func (b *boltBackend) List(ctx context.Context, c Collection) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte)
	err := b.db.View(func(tx *bolt.Tx) error {
		bk, err := b.bucket(tx, "list", c)
		if err != nil {
			return err
		}
		return bk.ForEach(func(k, v []byte) error {
			out[string(k)] = cloneBytes(v)
			return nil
		})
	})
	return out, err
}

func (b *boltBackend) Update(ctx context.Context, c Collection, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bk, err := b.bucket(tx, "update", c)
		if err != nil {
			return err
		}
		cur := bk.Get([]byte(key))
		next, write, err := applyUpdate(fn, cloneBytes(cur), cur != nil)
		if err != nil || !write {
			return err
		}
		return bk.Put([]byte(key), next)
	})
}

func (b *boltBackend) Close() error {
	return b.db.Close()
}
