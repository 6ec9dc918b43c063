// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// SQLITE BACKEND
// =============================================================================

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS collections (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS kv (
	collection TEXT NOT NULL REFERENCES collections(name),
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (collection, key)
);
`

// sqliteBackend stores every collection in one kv table.
type sqliteBackend struct {
	db          *sql.DB
	collections map[Collection]bool
}

// OpenSQLite returns an Opener for a SQLite database at path.
func OpenSQLite(path string) Opener {
	return func(ctx context.Context) (Backend, error) {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}

		// One connection serializes writers, which gives Update its
		// read-modify-write isolation.
		db.SetMaxOpenConns(1)

		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
		}
		for _, p := range pragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				db.Close()
				return nil, fmt.Errorf("apply %q: %w", p, err)
			}
		}
		if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}

		b := &sqliteBackend{db: db, collections: make(map[Collection]bool)}
		for _, c := range Collections {
			if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO collections(name) VALUES (?)`, string(c)); err != nil {
				db.Close()
				return nil, fmt.Errorf("register collection %s: %w", c, err)
			}
			b.collections[c] = true
		}
		return b, nil
	}
}

func (b *sqliteBackend) check(op string, c Collection) error {
	if !b.collections[c] {
		return newError(KindStorageMissing, op, c, "", fmt.Errorf("table for %q missing", c))
	}
	return nil
}

func (b *sqliteBackend) Get(ctx context.Context, c Collection, key string) ([]byte, error) {
	if err := b.check("get", c); err != nil {
		return nil, err
	}
	var v []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE collection = ? AND key = ?`, string(c), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(KindNotFound, "get", c, key, nil)
	}
	return v, err
}

func (b *sqliteBackend) Put(ctx context.Context, c Collection, key string, value []byte) error {
	if err := b.check("put", c); err != nil {
		return err
	}
	_, err := b.db.ExecContext(ctx, upsertSQL, string(c), key, value, time.Now().UnixNano())
	return err
}

const upsertSQL = `
INSERT INTO kv(collection, key, value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (b *sqliteBackend) Add(ctx context.Context, c Collection, key string, value []byte) error {
	if err := b.check("add", c); err != nil {
		return err
	}
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO kv(collection, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection, key) DO NOTHING`,
		string(c), key, value, time.Now().UnixNano())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return newError(KindExists, "add", c, key, nil)
	}
	return nil
}

func (b *sqliteBackend) Delete(ctx context.Context, c Collection, key string) error {
	if err := b.check("delete", c); err != nil {
		return err
	}
	_, err := b.db.ExecContext(ctx, `DELETE FROM kv WHERE collection = ? AND key = ?`, string(c), key)
	return err
}

func (b *sqliteBackend) List(ctx context.Context, c Collection) (map[string][]byte, error) {
	if err := b.check("list", c); err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE collection = ?`, string(c))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (b *sqliteBackend) Update(ctx context.Context, c Collection, key string, fn UpdateFunc) error {
	if err := b.check("update", c); err != nil {
		return err
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var cur []byte
	exists := true
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE collection = ? AND key = ?`, string(c), key).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		exists, cur = false, nil
	} else if err != nil {
		return err
	}

	next, write, err := applyUpdate(fn, cur, exists)
	if err != nil || !write {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsertSQL, string(c), key, next, time.Now().UnixNano()); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
