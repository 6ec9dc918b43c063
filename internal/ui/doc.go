// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides the full-screen chat interface of rigchat.
//
// The screen is a Bubble Tea model with a conversation sidebar, a transcript
// viewport that shows replies as they stream and a single-line input. Sends
// run on a tea.Cmd goroutine through a session.Controller; stream changes
// and controller notifications reach the model through program.Send.
//
// # Keys
//
//   - Enter: send
//   - Ctrl+N: new conversation
//   - Ctrl+D: delete the active conversation
//   - Ctrl+R: retry the last prompt
//   - Ctrl+B: toggle the sidebar
//   - Ctrl+O: next model
//   - Tab / Shift+Tab: next or previous conversation
//   - Esc / Ctrl+C: quit
//
// In reduced mode (the store could not be opened) the sidebar stays hidden
// and a warning line is shown above the input.
package ui
