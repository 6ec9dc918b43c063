// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// =============================================================================
// SEND
// =============================================================================

// SendRequest describes one user turn to send.
type SendRequest struct {
	Model   string
	Content string
	Images  []string

	// History is the prior conversation, oldest first.
	History []Message

	// Rules is the merged system prompt. When non-empty it is sent as a
	// leading system message.
	Rules string

	// Timeout bounds the whole exchange. Zero uses the client default;
	// NoTimeout disables it.
	Timeout time.Duration

	// OnChunk receives each non-empty text increment in arrival order.
	OnChunk func(chunk string)
}

// SendResult is the outcome of SendChatMessage. Failures are reported in Err
// rather than returned, so callers treat a failed reply as data.
type SendResult struct {
	Success      bool
	FullResponse string
	Model        string
	Stats        StreamChunk
	Err          error
}

// BuildMessages assembles the request messages: the rules as a system message
// (only when non-empty), then the history, then the new user turn.
func BuildMessages(rules string, history []Message, content string, images []string) []Message {
	messages := make([]Message, 0, len(history)+2)
	if strings.TrimSpace(rules) != "" {
		messages = append(messages, NewSystemMessage(rules))
	}
	messages = append(messages, history...)
	return append(messages, NewUserMessage(content, images...))
}

// SendChatMessage streams a reply to req. OnChunk sees every text increment
// while the reply is in flight. On success the result carries the exact
// concatenation of those increments. On failure (transport error, non-200
// status, server error line, timeout) Success is false and Err says why.
func (c *Client) SendChatMessage(ctx context.Context, req SendRequest) SendResult {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.RequestTimeout()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	model := c.model(req.Model)
	log := c.log.WithField("model", model)
	messages := BuildMessages(req.Rules, req.History, req.Content, req.Images)

	var full strings.Builder
	var final StreamChunk
	start := time.Now()
	err := c.ChatStream(ctx, model, messages, func(chunk StreamChunk) {
		if chunk.Done {
			final = chunk
		}
		if chunk.Content == "" {
			return
		}
		full.WriteString(chunk.Content)
		if req.OnChunk != nil {
			req.OnChunk(chunk.Content)
		}
	})
	if err != nil {
		log.WithError(err).WithField("received_bytes", full.Len()).Warn("chat request failed")
		return SendResult{Model: model, Err: err}
	}

	log.WithField("duration", time.Since(start).Round(time.Millisecond)).
		WithField("tokens", final.CompletionTokens).
		Debug("chat reply complete")
	return SendResult{
		Success:      true,
		FullResponse: full.String(),
		Model:        model,
		Stats:        final,
	}
}

// =============================================================================
// TITLES
// =============================================================================

const titlePrompt = "Summarize the conversation above as a short title of at most six words. " +
	"Reply with the title only, without quotes or punctuation at the end."

const maxTitleRunes = 50

// GenerateTitle asks model for a short title describing history.
func (c *Client) GenerateTitle(ctx context.Context, model string, history []Message) (string, error) {
	if len(history) == 0 {
		return "", &ClientError{Type: ErrTypeInvalidRequest, Message: "nothing to summarize"}
	}
	messages := append(append([]Message{}, history...), NewUserMessage(titlePrompt))

	resp, err := c.Chat(ctx, model, messages)
	if err != nil {
		return "", err
	}

	title := strings.Join(strings.Fields(resp.Message.Content), " ")
	title = strings.Trim(title, "\"'`*#. ")
	if title == "" {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "model returned an empty title"}
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	return title, nil
}
