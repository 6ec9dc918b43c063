// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/rigchat/internal/conversation"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/state"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoModel is returned when Submit is called before a model is selected.
	ErrNoModel = errors.New("no model selected")

	// ErrEmptyPrompt is returned for a prompt with no text and no images.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrBusy is returned while another reply is streaming.
	ErrBusy = errors.New("a reply is already streaming")

	// ErrNothingToRetry is returned by RetryLast when the conversation has no
	// user message.
	ErrNothingToRetry = errors.New("no message to retry")
)

// User-visible notification texts.
const (
	MsgSendFailed  = "message failed to send"
	MsgSaveFailed  = "reply could not be saved"
	MsgLoadFailed  = "conversation could not be loaded"
	MsgTitleFailed = "conversation could not be renamed"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// ChatClient streams a reply from the model server.
type ChatClient interface {
	SendChatMessage(ctx context.Context, req ollama.SendRequest) ollama.SendResult
}

// Conversations is the part of the conversation manager the controller uses.
type Conversations interface {
	Get(ctx context.Context, id string) (conversation.Info, error)
	History(ctx context.Context, id string) ([]conversation.Message, error)
	Append(ctx context.Context, id string, msg conversation.Message) error
	Rename(ctx context.Context, id, title string) error
}

// RuleSource supplies the merged system prompt.
type RuleSource interface {
	Merged(ctx context.Context) (string, error)
}

// Notification is a transient, user-visible message.
type Notification struct {
	Message string
	Err     error
}

func (n Notification) String() string {
	if n.Err == nil {
		return n.Message
	}
	return n.Message + ": " + n.Err.Error()
}

// Notifier shows notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// =============================================================================
// CONTROLLER
// =============================================================================

// Config wires a Controller. Client and Conversations are required.
type Config struct {
	Client        ChatClient
	Conversations Conversations

	// Rules is optional; without it no system message is sent.
	Rules RuleSource

	// Stream and Models default to fresh containers.
	Stream *state.Stream
	Models *state.Models

	Notifier Notifier
	Logger   logrus.FieldLogger

	// Timeout bounds each exchange. Zero uses the client default.
	Timeout time.Duration

	// AutoTitle renames an untitled conversation after its first prompt.
	AutoTitle bool

	// Now defaults to time.Now.
	Now func() time.Time
}

// Controller runs chat exchanges. One Controller serves one front end; it
// allows a single reply in flight at a time.
type Controller struct {
	client    ChatClient
	convs     Conversations
	rules     RuleSource
	stream    *state.Stream
	models    *state.Models
	notifier  Notifier
	log       logrus.FieldLogger
	timeout   time.Duration
	autoTitle bool
	now       func() time.Time
}

// NewController creates a controller.
func NewController(cfg Config) *Controller {
	c := &Controller{
		client:    cfg.Client,
		convs:     cfg.Conversations,
		rules:     cfg.Rules,
		stream:    cfg.Stream,
		models:    cfg.Models,
		notifier:  cfg.Notifier,
		log:       logging.OrDiscard(cfg.Logger),
		timeout:   cfg.Timeout,
		autoTitle: cfg.AutoTitle,
		now:       cfg.Now,
	}
	if c.stream == nil {
		c.stream = state.NewStream()
	}
	if c.models == nil {
		c.models = state.NewModels()
	}
	if c.notifier == nil {
		c.notifier = NotifierFunc(func(Notification) {})
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Stream returns the stream state the controller publishes chunks to.
func (c *Controller) Stream() *state.Stream { return c.stream }

// Models returns the model selection the controller reads.
func (c *Controller) Models() *state.Models { return c.models }

// Streaming reports whether a reply is in flight.
func (c *Controller) Streaming() bool { return c.stream.Streaming() }

// Submit sends text (and images, raw base64) as the next user turn of
// conversation id and waits for the reply.
//
// The user message is persisted before the request is made. On success one
// assistant message holding the exact concatenation of the streamed chunks is
// appended, even when that text is empty. On failure the notifier receives
// MsgSendFailed and nothing else is persisted.
func (c *Controller) Submit(ctx context.Context, id, text string, images []string) error {
	model := c.models.Selected()
	if model == "" {
		return ErrNoModel
	}
	if strings.TrimSpace(text) == "" && len(images) == 0 {
		return ErrEmptyPrompt
	}
	if !c.stream.Begin() {
		return ErrBusy
	}
	defer c.stream.End()

	log := c.log.WithFields(logrus.Fields{"conversation": id, "model": model})

	history, err := c.convs.History(ctx, id)
	if err != nil {
		c.notify(MsgLoadFailed, err)
		return fmt.Errorf("load history: %w", err)
	}

	userMsg := conversation.Message{
		Role:      conversation.RoleUser,
		Content:   text,
		Images:    images,
		Model:     model,
		Timestamp: c.now().UTC(),
	}
	if err := c.convs.Append(ctx, id, userMsg); err != nil {
		c.notify(MsgSendFailed, err)
		return fmt.Errorf("save prompt: %w", err)
	}

	if c.autoTitle && len(history) == 0 {
		c.titleFromPrompt(ctx, log, id, text)
	}

	var rules string
	if c.rules != nil {
		rules, err = c.rules.Merged(ctx)
		if err != nil {
			log.WithError(err).Warn("could not load rules, sending without them")
			rules = ""
		}
	}

	log.WithField("history", len(history)).Debug("sending prompt")
	result := c.client.SendChatMessage(ctx, ollama.SendRequest{
		Model:   model,
		Content: text,
		Images:  images,
		History: toWire(history),
		Rules:   rules,
		Timeout: c.timeout,
		OnChunk: c.stream.Append,
	})
	if !result.Success {
		err := result.Err
		if err == nil {
			err = errors.New("unknown error")
		}
		c.notify(MsgSendFailed, err)
		return fmt.Errorf("send: %w", err)
	}

	reply := conversation.Message{
		Role:      conversation.RoleAssistant,
		Content:   result.FullResponse,
		Model:     model,
		Timestamp: c.now().UTC(),
	}
	if result.Model != "" {
		reply.Model = result.Model
	}
	if err := c.convs.Append(ctx, id, reply); err != nil {
		c.notify(MsgSaveFailed, err)
		return fmt.Errorf("save reply: %w", err)
	}
	log.WithField("chars", len(result.FullResponse)).Debug("reply saved")
	return nil
}

// Retry re-sends a previously sent message as a new turn. Earlier history is
// left untouched.
func (c *Controller) Retry(ctx context.Context, id string, msg conversation.Message) error {
	return c.Submit(ctx, id, msg.Content, msg.Images)
}

// RetryLast re-sends the most recent user message of conversation id.
func (c *Controller) RetryLast(ctx context.Context, id string) error {
	history, err := c.convs.History(ctx, id)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == conversation.RoleUser {
			return c.Retry(ctx, id, history[i])
		}
	}
	return ErrNothingToRetry
}

func (c *Controller) titleFromPrompt(ctx context.Context, log logrus.FieldLogger, id, text string) {
	title := conversation.TitleFromPrompt(text)
	if title == conversation.DefaultTitle {
		return
	}
	info, err := c.convs.Get(ctx, id)
	if err != nil || info.Title != conversation.DefaultTitle {
		return
	}
	if err := c.convs.Rename(ctx, id, title); err != nil {
		log.WithError(err).Warn("auto title failed")
		c.notify(MsgTitleFailed, err)
	}
}

func (c *Controller) notify(msg string, err error) {
	c.notifier.Notify(Notification{Message: msg, Err: err})
}

// toWire converts stored messages to request messages. Timestamps and model
// names stay local.
func toWire(history []conversation.Message) []ollama.Message {
	out := make([]ollama.Message, 0, len(history))
	for _, m := range history {
		out = append(out, ollama.Message{
			Role:    string(m.Role),
			Content: m.Content,
			Images:  m.Images,
		})
	}
	return out
}
