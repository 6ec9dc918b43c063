// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"github.com/jeranaias/rigchat/internal/conversation"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/state"
)

// =============================================================================
// CONVERSATION MESSAGES
// =============================================================================

// ConversationsLoadedMsg carries the sidebar list.
type ConversationsLoadedMsg struct {
	Conversations []conversation.Info
	Err           error
}

// HistoryLoadedMsg carries the messages of one conversation.
type HistoryLoadedMsg struct {
	ID       string
	Messages []conversation.Message
	Err      error
}

// ConversationCreatedMsg is sent when the first prompt of a new chat has
// created its conversation. Prompt is sent next.
type ConversationCreatedMsg struct {
	ID     string
	Prompt string
	Err    error
}

// ConversationDeletedMsg is sent after a delete.
type ConversationDeletedMsg struct {
	ID  string
	Err error
}

// =============================================================================
// STREAMING MESSAGES
// =============================================================================

// StreamMsg forwards a change of the controller's stream state.
type StreamMsg struct {
	Snapshot state.StreamSnapshot
}

// ExchangeDoneMsg is sent when Submit or RetryLast returns.
type ExchangeDoneMsg struct {
	ID  string
	Err error
}

// NotificationMsg forwards a controller notification.
type NotificationMsg struct {
	Notification session.Notification
}

// redrawMsg flushes a stream frame held back by the redraw limiter.
type redrawMsg struct{}

// =============================================================================
// SERVER MESSAGES
// =============================================================================

// ModelsLoadedMsg carries the models installed on the server.
type ModelsLoadedMsg struct {
	Models []ollama.ModelInfo
	Err    error
}

// ConfigReloadedMsg is sent when the config file changed on disk.
type ConfigReloadedMsg struct {
	URL string
	Err error
}
