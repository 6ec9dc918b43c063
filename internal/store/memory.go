// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"sync"
)

// memoryBackend keeps everything in process. It backs tests and the reduced
// mode used when the on-disk store cannot be opened.
type memoryBackend struct {
	mu   sync.Mutex
	data map[Collection]map[string][]byte
}

// NewMemory returns an empty in-memory Backend.
func NewMemory() Backend {
	m := &memoryBackend{data: make(map[Collection]map[string][]byte)}
	for _, c := range Collections {
		m.data[c] = make(map[string][]byte)
	}
	return m
}

// OpenMemory returns an Opener for a fresh in-memory backend.
func OpenMemory() Opener {
	return func(ctx context.Context) (Backend, error) {
		return NewMemory(), nil
	}
}

func (m *memoryBackend) table(op string, c Collection) (map[string][]byte, error) {
	t, ok := m.data[c]
	if !ok {
		return nil, missing(op, c)
	}
	return t, nil
}

func (m *memoryBackend) Get(ctx context.Context, c Collection, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table("get", c)
	if err != nil {
		return nil, err
	}
	v, ok := t[key]
	if !ok {
		return nil, newError(KindNotFound, "get", c, key, nil)
	}
	return cloneBytes(v), nil
}

func (m *memoryBackend) Put(ctx context.Context, c Collection, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table("put", c)
	if err != nil {
		return err
	}
	t[key] = cloneBytes(value)
	return nil
}

func (m *memoryBackend) Add(ctx context.Context, c Collection, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table("add", c)
	if err != nil {
		return err
	}
	if _, ok := t[key]; ok {
		return newError(KindExists, "add", c, key, nil)
	}
	t[key] = cloneBytes(value)
	return nil
}

func (m *memoryBackend) Delete(ctx context.Context, c Collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table("delete", c)
	if err != nil {
		return err
	}
	delete(t, key)
	return nil
}

func (m *memoryBackend) List(ctx context.Context, c Collection) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table("list", c)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(t))
	for k, v := range t {
		out[k] = cloneBytes(v)
	}
	return out, nil
}

func (m *memoryBackend) Update(ctx context.Context, c Collection, key string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table("update", c)
	if err != nil {
		return err
	}
	cur, exists := t[key]
	next, write, err := applyUpdate(fn, cloneBytes(cur), exists)
	if err != nil || !write {
		return err
	}
	t[key] = cloneBytes(next)
	return nil
}

func (m *memoryBackend) Close() error { return nil }
