// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package state

import "sync/atomic"

// Sidebar tracks whether the conversation sidebar is shown. It starts open.
type Sidebar struct {
	closed atomic.Bool
}

// NewSidebar returns an open sidebar.
func NewSidebar() *Sidebar {
	return &Sidebar{}
}

func (s *Sidebar) Open() bool { return !s.closed.Load() }

func (s *Sidebar) SetOpen(open bool) { s.closed.Store(!open) }

// Toggle flips the sidebar and returns the new value.
func (s *Sidebar) Toggle() bool {
	for {
		closed := s.closed.Load()
		if s.closed.CompareAndSwap(closed, !closed) {
			return closed
		}
	}
}

func (s *Sidebar) Reset() { s.closed.Store(false) }
