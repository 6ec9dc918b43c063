// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// STREAM
// =============================================================================

func TestStream_Lifecycle(t *testing.T) {
	s := NewStream()
	assert.False(t, s.Streaming())
	assert.Nil(t, s.Snapshot().Chunks)

	s.Append("ignored while idle")
	assert.Nil(t, s.Snapshot().Chunks)

	require.True(t, s.Begin())
	assert.False(t, s.Begin(), "second Begin while active")

	s.Append("Hi")
	s.Append(" there")
	snap := s.Snapshot()
	assert.True(t, snap.Streaming)
	assert.Equal(t, []string{"Hi", " there"}, snap.Chunks)
	assert.Equal(t, "Hi there", snap.Text())

	s.End()
	snap = s.Snapshot()
	assert.False(t, snap.Streaming)
	assert.Nil(t, snap.Chunks)
	assert.Equal(t, "", snap.Text())

	s.End()
	assert.False(t, s.Streaming())
}

func TestStream_BeginClearsStaleChunks(t *testing.T) {
	s := NewStream()
	s.Begin()
	s.Append("old")
	s.End()

	s.Begin()
	assert.Empty(t, s.Snapshot().Chunks)
}

func TestStream_SnapshotIsACopy(t *testing.T) {
	s := NewStream()
	s.Begin()
	s.Append("a")
	snap := s.Snapshot()
	snap.Chunks[0] = "changed"
	assert.Equal(t, []string{"a"}, s.Snapshot().Chunks)
}

func TestStream_ListenerViewsStayStable(t *testing.T) {
	s := NewStream()
	var seen []StreamSnapshot
	s.Subscribe(func(snap StreamSnapshot) { seen = append(seen, snap) })

	s.Begin()
	s.Append("a")
	first := seen[len(seen)-1]
	grown := append(first.Chunks, "leak")
	s.Append("b")
	s.End()

	s.Begin()
	s.Append("c")

	assert.Equal(t, []string{"a"}, first.Chunks)
	assert.Equal(t, []string{"a", "leak"}, grown)
	assert.Equal(t, []string{"c"}, s.Snapshot().Chunks)
	assert.Equal(t, []string{"a", "b"}, seen[2].Chunks)
}

func TestStream_Subscribe(t *testing.T) {
	s := NewStream()
	var seen []StreamSnapshot
	unsubscribe := s.Subscribe(func(snap StreamSnapshot) { seen = append(seen, snap) })

	s.Begin()
	s.Append("x")
	s.Append("y")
	s.End()

	require.Len(t, seen, 4)
	assert.Equal(t, StreamSnapshot{Streaming: true, Chunks: []string{}}, seen[0])
	assert.Equal(t, []string{"x"}, seen[1].Chunks)
	assert.Equal(t, []string{"x", "y"}, seen[2].Chunks)
	assert.False(t, seen[3].Streaming)

	unsubscribe()
	unsubscribe()
	s.Begin()
	assert.Len(t, seen, 4)
}

func TestStream_ListenersInSubscriptionOrder(t *testing.T) {
	s := NewStream()
	var order []string
	s.Subscribe(func(StreamSnapshot) { order = append(order, "first") })
	s.Subscribe(func(StreamSnapshot) { order = append(order, "second") })

	s.Begin()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestStream_ListenerMayReadState(t *testing.T) {
	s := NewStream()
	var got []bool
	s.Subscribe(func(StreamSnapshot) { got = append(got, s.Streaming()) })
	s.Begin()
	s.End()
	assert.Equal(t, []bool{true, false}, got)
}

func TestStream_Reset(t *testing.T) {
	s := NewStream()
	calls := 0
	s.Subscribe(func(StreamSnapshot) { calls++ })
	s.Begin()
	s.Append("a")
	s.Reset()

	assert.False(t, s.Streaming())
	assert.Nil(t, s.Snapshot().Chunks)
	assert.True(t, s.Begin(), "Begin works after Reset")
	assert.Equal(t, 3, calls, "subscriptions survive Reset")
}

func TestStream_ConcurrentAppend(t *testing.T) {
	s := NewStream()
	s.Begin()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Append(".")
				_ = s.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, s.Snapshot().Chunks, 800)
}

// =============================================================================
// MODELS
// =============================================================================

func TestModels_SelectBeforeListKnown(t *testing.T) {
	m := NewModels()
	assert.Equal(t, "", m.Selected())
	require.NoError(t, m.Select("llama2"))
	assert.Equal(t, "llama2", m.Selected())
}

func TestModels_SelectAgainstList(t *testing.T) {
	m := NewModels()
	m.Set([]string{"llama2", "llava"})

	require.NoError(t, m.Select(" llava "))
	assert.Equal(t, "llava", m.Selected())

	err := m.Select("gpt-4")
	var unknown *UnknownModelError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "gpt-4", unknown.Name)
	assert.Equal(t, "llava", m.Selected(), "failed select keeps the old model")

	require.NoError(t, m.Select(""))
	assert.Equal(t, "", m.Selected())
}

func TestModels_SetKeepsSelection(t *testing.T) {
	m := NewModels()
	require.NoError(t, m.Select("mistral"))
	m.Set([]string{"llama2"})
	assert.Equal(t, "mistral", m.Selected())
	assert.Equal(t, []string{"llama2"}, m.List())
}

func TestModels_Next(t *testing.T) {
	m := NewModels()
	assert.Equal(t, "", m.Next())

	m.Set([]string{"a", "b", "c"})
	assert.Equal(t, "a", m.Next())
	assert.Equal(t, "b", m.Next())
	assert.Equal(t, "c", m.Next())
	assert.Equal(t, "a", m.Next())
}

func TestModels_Reset(t *testing.T) {
	m := NewModels()
	m.Set([]string{"a"})
	require.NoError(t, m.Select("a"))
	m.Reset()

	assert.Equal(t, "", m.Selected())
	assert.Nil(t, m.List())
	assert.NoError(t, m.Select("anything"), "list unknown again after Reset")
}

// =============================================================================
// SIDEBAR
// =============================================================================

func TestSidebar(t *testing.T) {
	s := NewSidebar()
	assert.True(t, s.Open())

	assert.False(t, s.Toggle())
	assert.False(t, s.Open())
	assert.True(t, s.Toggle())

	s.SetOpen(false)
	assert.False(t, s.Open())
	s.Reset()
	assert.True(t, s.Open())
}
