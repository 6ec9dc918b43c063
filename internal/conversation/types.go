// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/jeranaias/rigchat/internal/util"
)

// DefaultTitle is given to new conversations until they are renamed.
const DefaultTitle = "(untitled)"

// maxTitleRunes bounds titles derived from a prompt.
const maxTitleRunes = 50

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Info is one entry of the conversation list.
type Info struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Message is one persisted turn. Messages are never modified once stored.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Images holds raw base64 payloads (no data URL prefix).
	Images []string `json:"images,omitempty"`

	// Model is the model that produced (or was asked) this turn.
	Model     string    `json:"model,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Validate checks the message before it is written.
func (m Message) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Role, validation.Required, validation.In(RoleUser, RoleAssistant, RoleSystem)),
		validation.Field(&m.Images, validation.Each(validation.Required)),
	)
}

// NormalizeTitle trims title and falls back to DefaultTitle when empty.
func NormalizeTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return DefaultTitle
	}
	return title
}

// TitleFromPrompt derives a conversation title from the first user prompt.
// Whitespace runs collapse to one space and the result is cut to 50 runes.
func TitleFromPrompt(prompt string) string {
	title := strings.Join(strings.Fields(prompt), " ")
	if title == "" {
		return DefaultTitle
	}
	return util.TruncateRunes(title, maxTitleRunes)
}
