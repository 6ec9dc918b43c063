// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation manages the conversation list and per-conversation
// message history on top of the store.
//
// The conversation list lives under a single well-known key of the meta
// collection; each history lives under its conversation id in the chat
// collection. Every mutation keeps the two in step: a listed id always has a
// history record and a history record is always listed. The one exception is
// a crash between the two writes of Delete, which can leave an unreferenced
// history record behind. Nothing reads history without going through the
// list, so such a record is ignored.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/store"
)

// ErrIDExhausted is returned when Create cannot find an unused id.
var ErrIDExhausted = errors.New("conversation: could not generate a unique id")

// errCollision aborts the metadata update when the id is already listed.
var errCollision = errors.New("conversation: id collision")

const defaultMaxAttempts = 16

// IDGenerator returns candidate conversation ids.
type IDGenerator func() string

// Manager creates, lists, renames and deletes conversations and appends
// messages to their history.
type Manager struct {
	store       *store.Store
	newID       IDGenerator
	now         func() time.Time
	log         logrus.FieldLogger
	maxAttempts int
}

// Option configures a Manager.
type Option func(*Manager)

// WithIDGenerator replaces the uuid generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(m *Manager) { m.newID = gen }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = logging.OrDiscard(l) }
}

// WithMaxAttempts bounds how many ids Create tries.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// NewManager returns a Manager backed by s.
func NewManager(s *store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:       s,
		newID:       uuid.NewString,
		now:         time.Now,
		log:         logging.Discard(),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns every conversation in creation order. It returns an empty
// slice when nothing has been created yet.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	infos, err := store.GetJSON[[]Info](ctx, m.store, store.Meta, store.ChatListKey)
	if store.IsNotFound(err) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if infos == nil {
		infos = []Info{}
	}
	return infos, nil
}

// Get returns the list entry for id, or an error matching
// store.ErrItemNotFound.
func (m *Manager) Get(ctx context.Context, id string) (Info, error) {
	infos, err := m.List(ctx)
	if err != nil {
		return Info{}, err
	}
	if i := indexOf(infos, id); i >= 0 {
		return infos[i], nil
	}
	return Info{}, notFound("get", store.Meta, id)
}

// Exists reports whether id is a listed conversation.
func (m *Manager) Exists(ctx context.Context, id string) (bool, error) {
	_, err := m.Get(ctx, id)
	if store.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// =============================================================================
// CREATE / RENAME / DELETE
// =============================================================================

// Create registers a new, empty conversation and returns its id.
//
// Candidate ids are checked against the list and against existing history
// records; a collision draws a new candidate. The history record is written
// first with Add, then the list is extended in one atomic update. If the
// update fails the history record is removed again.
func (m *Manager) Create(ctx context.Context) (string, error) {
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		id := m.newID()
		if id == "" || id == store.ChatListKey {
			continue
		}

		infos, err := m.List(ctx)
		if err != nil {
			return "", fmt.Errorf("create conversation: %w", err)
		}
		if indexOf(infos, id) >= 0 {
			m.log.WithField("conversation", id).Debug("id collision, retrying")
			continue
		}

		err = store.AddJSON(ctx, m.store, store.Chat, id, []Message{})
		if errors.Is(err, store.ErrKeyExists) {
			m.log.WithField("conversation", id).Debug("unreferenced history record, retrying")
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create conversation: %w", err)
		}

		err = store.UpdateJSON(ctx, m.store, store.Meta, store.ChatListKey, func(cur []Info, _ bool) ([]Info, error) {
			if indexOf(cur, id) >= 0 {
				return nil, errCollision
			}
			return append(cur, Info{ID: id, Title: DefaultTitle}), nil
		})
		if err != nil {
			if delErr := m.store.Delete(ctx, store.Chat, id); delErr != nil {
				m.log.WithError(delErr).WithField("conversation", id).Warn("rollback of history record failed")
			}
			if errors.Is(err, errCollision) {
				continue
			}
			return "", fmt.Errorf("create conversation: %w", err)
		}

		m.log.WithField("conversation", id).Info("conversation created")
		return id, nil
	}
	return "", ErrIDExhausted
}

// Rename sets the title of id. An unknown id is a no-op.
func (m *Manager) Rename(ctx context.Context, id, title string) error {
	title = NormalizeTitle(title)
	err := store.UpdateJSON(ctx, m.store, store.Meta, store.ChatListKey, func(cur []Info, _ bool) ([]Info, error) {
		i := indexOf(cur, id)
		if i < 0 || cur[i].Title == title {
			return nil, store.ErrSkipWrite
		}
		cur[i].Title = title
		return cur, nil
	})
	if err != nil {
		return fmt.Errorf("rename conversation %s: %w", id, err)
	}
	return nil
}

// Delete removes id from the list and then deletes its history record.
func (m *Manager) Delete(ctx context.Context, id string) error {
	err := store.UpdateJSON(ctx, m.store, store.Meta, store.ChatListKey, func(cur []Info, _ bool) ([]Info, error) {
		i := indexOf(cur, id)
		if i < 0 {
			return nil, store.ErrSkipWrite
		}
		return append(cur[:i:i], cur[i+1:]...), nil
	})
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}

	// A crash here leaves an unreferenced history record.
	if err := m.store.Delete(ctx, store.Chat, id); err != nil {
		return fmt.Errorf("delete history %s: %w", id, err)
	}
	m.log.WithField("conversation", id).Info("conversation deleted")
	return nil
}

// =============================================================================
// HISTORY
// =============================================================================

// History returns the messages of id in insertion order. It fails with an
// error matching store.ErrItemNotFound for unknown or deleted conversations.
func (m *Manager) History(ctx context.Context, id string) ([]Message, error) {
	msgs, err := store.GetJSON[[]Message](ctx, m.store, store.Chat, id)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", id, err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// Append adds msg to the end of the history of id. A zero timestamp is
// replaced with the current time.
func (m *Manager) Append(ctx context.Context, id string, msg Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now().UTC()
	}
	err := store.UpdateJSON(ctx, m.store, store.Chat, id, func(cur []Message, exists bool) ([]Message, error) {
		if !exists {
			return nil, notFound("append", store.Chat, id)
		}
		return append(cur, msg), nil
	})
	if err != nil {
		return fmt.Errorf("append message to %s: %w", id, err)
	}
	return nil
}

func indexOf(infos []Info, id string) int {
	for i, info := range infos {
		if info.ID == id {
			return i
		}
	}
	return -1
}

func notFound(op string, c store.Collection, id string) error {
	return &store.Error{Kind: store.KindNotFound, Op: op, Collection: c, Key: id}
}
