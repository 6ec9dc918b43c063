// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package state

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// =============================================================================
// MODEL SELECTION
// =============================================================================

// UnknownModelError is returned by Select when the model is not installed.
type UnknownModelError struct {
	Name string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("model %q is not installed", e.Name)
}

// Models holds the installed model names and the current selection.
//
// Until Set is called the list is unknown and Select accepts any name; this
// lets a configured default work before the server has been asked.
type Models struct {
	mu       sync.RWMutex
	known    bool
	names    []string
	selected string
}

// NewModels returns an empty selection.
func NewModels() *Models {
	return &Models{}
}

// Set replaces the known model list. A selection that is no longer installed
// is kept; the server reports it on the next send.
func (m *Models) Set(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known = true
	m.names = slices.Clone(names)
}

// List returns the known model names, or nil if unknown.
func (m *Models) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.names)
}

// Select makes name the current model.
func (m *Models) Select(name string) error {
	name = strings.TrimSpace(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "" {
		m.selected = ""
		return nil
	}
	if m.known && !slices.Contains(m.names, name) {
		return &UnknownModelError{Name: name}
	}
	m.selected = name
	return nil
}

// Selected returns the current model, or "" if none.
func (m *Models) Selected() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selected
}

// Next selects the model after the current one in the known list, wrapping
// around, and returns it. With no known models the selection is unchanged.
func (m *Models) Next() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.names) == 0 {
		return m.selected
	}
	i := slices.Index(m.names, m.selected)
	m.selected = m.names[(i+1)%len(m.names)]
	return m.selected
}

// Reset forgets the list and the selection.
func (m *Models) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known = false
	m.names = nil
	m.selected = ""
}
