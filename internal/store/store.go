// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides the embedded key-value database behind rigchat.
//
// Data lives in a fixed set of collections (conversation metadata, message
// history and rules). Each collection maps string keys to JSON documents.
// Every operation on a single key is atomic: readers never observe a
// partially written value, and Update performs read-modify-write inside one
// backend transaction.
//
// A Store does not touch the disk until first use. The first operation, or an
// explicit Init, opens the backend exactly once even when several goroutines
// race to use the store.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/jeranaias/rigchat/internal/logging"
)

// =============================================================================
// COLLECTIONS
// =============================================================================

// Collection names a logical table.
type Collection string

const (
	// Meta holds the conversation list under ChatListKey.
	Meta Collection = "meta"
	// Chat holds one message history per conversation id.
	Chat Collection = "chat"
	// Rules holds the global rule and one entry per custom rule.
	Rules Collection = "rules"
)

// ChatListKey is the well-known Meta key holding every ConversationInfo.
const ChatListKey = "chat_id"

// Collections lists every collection a backend must provide.
var Collections = []Collection{Meta, Chat, Rules}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// =============================================================================
// BACKEND
// =============================================================================

// UpdateFunc computes the new value for a key from its current value.
// exists is false when the key is absent, in which case old is nil.
type UpdateFunc func(old []byte, exists bool) ([]byte, error)

// Backend is a concrete storage engine.
type Backend interface {
	Get(ctx context.Context, c Collection, key string) ([]byte, error)
	Put(ctx context.Context, c Collection, key string, value []byte) error
	Add(ctx context.Context, c Collection, key string, value []byte) error
	Delete(ctx context.Context, c Collection, key string) error
	List(ctx context.Context, c Collection) (map[string][]byte, error)
	Update(ctx context.Context, c Collection, key string, fn UpdateFunc) error
	Close() error
}

// Opener creates a Backend. It is called by the init gate.
type Opener func(ctx context.Context) (Backend, error)

// =============================================================================
// STORE
// =============================================================================

// Store is the lazily initialized, goroutine-safe front of a Backend.
type Store struct {
	open Opener
	name string
	log  logrus.FieldLogger

	group singleflight.Group

	mu      sync.RWMutex
	backend Backend
	closed  bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = logging.OrDiscard(l) }
}

// WithName labels the store in log output (for example the backend kind).
func WithName(name string) Option {
	return func(s *Store) { s.name = name }
}

// New returns a Store that opens its backend with open on first use.
func New(open Opener, opts ...Option) *Store {
	s := &Store{open: open, log: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init opens the backend if it is not open yet. Concurrent callers share
// a single in-flight open. A failed open is not remembered, so a later call
// tries again.
func (s *Store) Init(ctx context.Context) error {
	s.mu.RLock()
	ready, closed := s.backend != nil, s.closed
	s.mu.RUnlock()
	if closed {
		return newError(KindNotInitialized, "init", "", "", errors.New("store closed"))
	}
	if ready {
		return nil
	}

	_, err, _ := s.group.Do("init", func() (any, error) {
		s.mu.RLock()
		ready := s.backend != nil
		s.mu.RUnlock()
		if ready {
			return nil, nil
		}

		if s.open == nil {
			return nil, newError(KindNotInitialized, "init", "", "", errors.New("no backend configured"))
		}
		b, err := s.open(ctx)
		if err != nil {
			s.log.WithError(err).WithField("backend", s.name).Warn("store open failed")
			return nil, newError(KindNotInitialized, "init", "", "", err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			_ = b.Close()
			return nil, newError(KindNotInitialized, "init", "", "", errors.New("store closed"))
		}
		s.backend = b
		s.log.WithField("backend", s.name).Debug("store opened")
		return nil, nil
	})
	return err
}

// Ready reports whether the backend is open.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend != nil && !s.closed
}

// Close releases the backend. Operations after Close fail with
// ErrNotInitialized.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.backend == nil {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	return err
}

func (s *Store) ready(ctx context.Context, op string, c Collection) (Backend, error) {
	if !c.Valid() {
		return nil, missing(op, c)
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backend == nil {
		return nil, newError(KindNotInitialized, op, c, "", errors.New("store closed"))
	}
	return s.backend, nil
}

// Get returns the raw value for key. It fails with ErrItemNotFound when the
// key is absent.
func (s *Store) Get(ctx context.Context, c Collection, key string) ([]byte, error) {
	b, err := s.ready(ctx, "get", c)
	if err != nil {
		return nil, err
	}
	v, err := b.Get(ctx, c, key)
	return v, opError("get", c, key, err)
}

// Put inserts or overwrites key.
func (s *Store) Put(ctx context.Context, c Collection, key string, value []byte) error {
	b, err := s.ready(ctx, "put", c)
	if err != nil {
		return err
	}
	return opError("put", c, key, b.Put(ctx, c, key, value))
}

// Add inserts key and fails with ErrKeyExists if it is already present.
func (s *Store) Add(ctx context.Context, c Collection, key string, value []byte) error {
	b, err := s.ready(ctx, "add", c)
	if err != nil {
		return err
	}
	return opError("add", c, key, b.Add(ctx, c, key, value))
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, c Collection, key string) error {
	b, err := s.ready(ctx, "delete", c)
	if err != nil {
		return err
	}
	return opError("delete", c, key, b.Delete(ctx, c, key))
}

// List returns every key and raw value in c.
func (s *Store) List(ctx context.Context, c Collection) (map[string][]byte, error) {
	b, err := s.ready(ctx, "list", c)
	if err != nil {
		return nil, err
	}
	items, err := b.List(ctx, c)
	return items, opError("list", c, "", err)
}

// Update atomically replaces key with fn's result. fn runs inside the
// backend transaction and must not call back into the store.
func (s *Store) Update(ctx context.Context, c Collection, key string, fn UpdateFunc) error {
	b, err := s.ready(ctx, "update", c)
	if err != nil {
		return err
	}
	return opError("update", c, key, b.Update(ctx, c, key, fn))
}

// applyUpdate runs fn and reports whether the result should be written.
func applyUpdate(fn UpdateFunc, old []byte, exists bool) ([]byte, bool, error) {
	next, err := fn(old, exists)
	if errors.Is(err, ErrSkipWrite) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return next, true, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
