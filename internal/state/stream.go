// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package state

import (
	"strings"
	"sync"
)

// =============================================================================
// STREAM STATE
// =============================================================================

// StreamSnapshot is a copy of the stream state at one point in time.
type StreamSnapshot struct {
	Streaming bool
	// Chunks is nil whenever Streaming is false.
	Chunks []string
}

// Text returns the concatenated chunks.
func (s StreamSnapshot) Text() string {
	return strings.Join(s.Chunks, "")
}

// StreamListener is called after every change with the new snapshot. The
// snapshot's Chunks share storage with the stream and must not be modified;
// use Stream.Snapshot for a private copy.
type StreamListener func(StreamSnapshot)

// Stream tracks the reply currently being streamed.
//
// Listeners are called synchronously, in subscription order, outside the
// internal lock. A listener must not block for long: the stream reader waits
// for it before decoding the next line.
type Stream struct {
	mu        sync.Mutex
	streaming bool
	chunks    []string

	nextID    int
	listeners map[int]StreamListener
	order     []int
}

// NewStream returns an idle stream.
func NewStream() *Stream {
	return &Stream{listeners: make(map[int]StreamListener)}
}

// Begin clears any stale chunks and marks the stream active. It reports false
// if a stream was already active, in which case nothing changes.
func (s *Stream) Begin() bool {
	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return false
	}
	s.streaming = true
	// New storage per stream; earlier listener views keep the old array.
	s.chunks = make([]string, 0, 64)
	snap := s.viewLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snap)
	return true
}

// Append adds a chunk. It is ignored when no stream is active.
func (s *Stream) Append(chunk string) {
	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		return
	}
	s.chunks = append(s.chunks, chunk)
	snap := s.viewLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snap)
}

// End returns the stream to idle and drops the chunks. Calling End on an idle
// stream is a no-op.
func (s *Stream) End() {
	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		return
	}
	s.streaming = false
	s.chunks = nil
	snap := s.viewLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snap)
}

// Streaming reports whether a stream is active.
func (s *Stream) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Snapshot returns a copy of the current state.
func (s *Stream) Snapshot() StreamSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn and returns a function that removes it.
func (s *Stream) Subscribe(fn StreamListener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Reset returns the stream to its initial state. Subscriptions are kept.
func (s *Stream) Reset() {
	s.mu.Lock()
	s.streaming = false
	s.chunks = nil
	s.mu.Unlock()
}

func (s *Stream) snapshotLocked() StreamSnapshot {
	if !s.streaming {
		return StreamSnapshot{}
	}
	chunks := make([]string, len(s.chunks))
	copy(chunks, s.chunks)
	return StreamSnapshot{Streaming: true, Chunks: chunks}
}

// viewLocked returns a snapshot without copying. Chunks are only ever
// appended, and the capacity is capped so an append by the receiver
// reallocates instead of writing into the stream's array.
func (s *Stream) viewLocked() StreamSnapshot {
	if !s.streaming {
		return StreamSnapshot{}
	}
	n := len(s.chunks)
	return StreamSnapshot{Streaming: true, Chunks: s.chunks[:n:n]}
}

func (s *Stream) listenersLocked() []StreamListener {
	out := make([]StreamListener, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.listeners[id])
	}
	return out
}

func notify(listeners []StreamListener, snap StreamSnapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}
