// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives one chat exchange from prompt to persisted reply.
//
// A Controller moves between two states, idle and streaming. Submit checks
// its guards, persists the user's message, streams the reply into a
// state.Stream and, when the reply completes, persists it as one assistant
// message. A failed reply is reported through the Notifier and leaves no
// assistant message behind. Every path returns the stream to idle.
package session
