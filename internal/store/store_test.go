// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// INIT GATE
// =============================================================================

func TestInit_ConcurrentCallersOpenOnce(t *testing.T) {
	var opens int32
	release := make(chan struct{})
	s := New(func(ctx context.Context) (Backend, error) {
		atomic.AddInt32(&opens, 1)
		<-release
		return NewMemory(), nil
	})
	defer s.Close()

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				errs <- s.Init(context.Background())
				return
			}
			_, err := s.List(context.Background(), Chat)
			errs <- err
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&opens))
	assert.True(t, s.Ready())
}

func TestInit_FailureIsNotCached(t *testing.T) {
	var calls int32
	s := New(func(ctx context.Context) (Backend, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("disk unavailable")
		}
		return NewMemory(), nil
	})
	defer s.Close()

	_, err := s.Get(context.Background(), Meta, ChatListKey)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotInitialized))
	assert.False(t, errors.Is(err, ErrItemNotFound))
	assert.Contains(t, err.Error(), "disk unavailable")

	_, err = s.Get(context.Background(), Meta, ChatListKey)
	assert.True(t, errors.Is(err, ErrItemNotFound), "second call opens the store")
}

func TestInit_NilOpener(t *testing.T) {
	s := New(nil)
	err := s.Init(context.Background())
	assert.True(t, errors.Is(err, ErrNotInitialized))
}

func TestClose_LaterCallsFail(t *testing.T) {
	s := New(OpenMemory())
	require.NoError(t, s.Put(context.Background(), Chat, "a", []byte(`[]`)))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), Chat, "a")
	assert.True(t, errors.Is(err, ErrNotInitialized))
	assert.False(t, s.Ready())
}

// =============================================================================
// ERRORS
// =============================================================================

func TestError_Message(t *testing.T) {
	err := newError(KindNotFound, "get", Chat, "abc", nil)
	assert.Equal(t, "store get chat/abc: item not found", err.Error())

	wrapped := newError(KindOperation, "put", Meta, "", errors.New("disk full"))
	assert.True(t, strings.HasSuffix(wrapped.Error(), "operation failed: disk full"))
}

func TestError_KindsAreDistinct(t *testing.T) {
	sentinels := []error{ErrNotInitialized, ErrStorageMissing, ErrItemNotFound, ErrKeyExists}
	for i, a := range sentinels {
		for j, b := range sentinels {
			assert.Equal(t, i == j, errors.Is(a, b), "%v vs %v", a, b)
		}
	}
	assert.Equal(t, KindOperation, KindOf(errors.New("plain")))
}

func TestOpError_KeepsStoreErrors(t *testing.T) {
	inner := newError(KindExists, "add", Chat, "x", nil)
	assert.Same(t, inner, opError("add", Chat, "x", inner).(*Error))

	plain := opError("put", Chat, "x", errors.New("io"))
	assert.Equal(t, KindOperation, KindOf(plain))
	assert.Nil(t, opError("put", Chat, "x", nil))
}

// =============================================================================
// TYPED HELPERS
// =============================================================================

type sample struct {
	Name string `json:"name"`
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := New(OpenMemory())
	defer s.Close()

	require.NoError(t, AddJSON(ctx, s, Rules, "a", sample{Name: "alpha"}))
	require.NoError(t, PutJSON(ctx, s, Rules, "b", sample{Name: "beta"}))
	require.NoError(t, s.Put(ctx, Rules, "bad", []byte(`{not json`)))

	got, err := GetJSON[sample](ctx, s, Rules, "a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)

	_, err = GetJSON[sample](ctx, s, Rules, "bad")
	assert.Equal(t, KindOperation, KindOf(err))

	items, skipped, err := ListJSON[sample](ctx, s, Rules)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, []string{"bad"}, skipped)

	ok, err := Exists(ctx, s, Rules, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = Exists(ctx, s, Rules, "zzz")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateJSON_SkipWrite(t *testing.T) {
	ctx := context.Background()
	s := New(OpenMemory())
	defer s.Close()

	err := UpdateJSON(ctx, s, Meta, "k", func(cur []string, exists bool) ([]string, error) {
		return nil, ErrSkipWrite
	})
	require.NoError(t, err)

	_, err = s.Get(ctx, Meta, "k")
	assert.True(t, IsNotFound(err), "skipped write must not create the key")
}
