// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package state holds the small pieces of mutable UI state shared between the
// session controller and the front ends: the in-flight stream, the model
// selection and the sidebar.
//
// Each container starts in a defined initial state, is safe for concurrent
// use and has a Reset method. None of them are package globals; construct one
// per UI instance (or per test).
package state
