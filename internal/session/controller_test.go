// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/conversation"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/rules"
	"github.com/jeranaias/rigchat/internal/state"
	"github.com/jeranaias/rigchat/internal/store"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeClient replays chunks and then returns result.
type fakeClient struct {
	chunks []string
	result ollama.SendResult

	mu       sync.Mutex
	requests []ollama.SendRequest
	// during is called after the chunks, before returning.
	during func()
}

func (f *fakeClient) SendChatMessage(ctx context.Context, req ollama.SendRequest) ollama.SendResult {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	for _, c := range f.chunks {
		req.OnChunk(c)
	}
	if f.during != nil {
		f.during()
	}
	return f.result
}

func (f *fakeClient) last(t *testing.T) ollama.SendRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

type fakeRules struct {
	merged string
	err    error
}

func (f fakeRules) Merged(context.Context) (string, error) { return f.merged, f.err }

// failingAppend wraps a real manager and fails Append for the given role.
type failingAppend struct {
	*conversation.Manager
	role conversation.Role
}

func (f failingAppend) Append(ctx context.Context, id string, msg conversation.Message) error {
	if msg.Role == f.role {
		return errors.New("disk full")
	}
	return f.Manager.Append(ctx, id, msg)
}

type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	ctrl   *Controller
	convs  *conversation.Manager
	client *fakeClient
	notes  *recorder
	id     string
}

func newHarness(t *testing.T, client *fakeClient, mutate func(*Config)) *harness {
	t.Helper()
	s := store.New(store.OpenMemory())
	t.Cleanup(func() { s.Close() })
	convs := conversation.NewManager(s, conversation.WithLogger(logging.Discard()))
	id, err := convs.Create(context.Background())
	require.NoError(t, err)

	notes := &recorder{}
	cfg := Config{
		Client:        client,
		Conversations: convs,
		Notifier:      notes,
		Logger:        logging.Discard(),
		Now:           func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl := NewController(cfg)
	require.NoError(t, ctrl.Models().Select("llama2"))
	return &harness{ctrl: ctrl, convs: convs, client: client, notes: notes, id: id}
}

func (h *harness) history(t *testing.T) []conversation.Message {
	t.Helper()
	msgs, err := h.convs.History(context.Background(), h.id)
	require.NoError(t, err)
	return msgs
}

// =============================================================================
// END TO END
// =============================================================================

func TestSubmit_EndToEndAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"message":{"content":"Hi"},"done":false}`+"\n")
		w.(http.Flusher).Flush()
		io.WriteString(w, `{"message":{"content":" there"},"done":true}`+"\n")
	}))
	defer srv.Close()

	s := store.New(store.OpenMemory())
	defer s.Close()
	ctx := context.Background()
	convs := conversation.NewManager(s)
	id, err := convs.Create(ctx)
	require.NoError(t, err)

	stream := state.NewStream()
	var shown []string
	stream.Subscribe(func(snap state.StreamSnapshot) {
		if n := len(snap.Chunks); n > 0 {
			shown = append(shown, snap.Chunks[n-1])
		}
	})

	ctrl := NewController(Config{
		Client:        ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL}),
		Conversations: convs,
		Rules:         rules.NewRepository(s),
		Stream:        stream,
	})
	require.NoError(t, ctrl.Models().Select("llama2"))

	require.NoError(t, ctrl.Submit(ctx, id, "hello", nil))

	assert.Equal(t, []string{"Hi", " there"}, shown)
	assert.False(t, ctrl.Streaming())

	msgs, err := convs.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi there", msgs[1].Content)
	assert.Equal(t, "llama2", msgs[1].Model)
	assert.False(t, msgs[1].Timestamp.IsZero())
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_Guards(t *testing.T) {
	client := &fakeClient{result: ollama.SendResult{Success: true}}
	h := newHarness(t, client, nil)
	ctx := context.Background()

	assert.ErrorIs(t, h.ctrl.Submit(ctx, h.id, "   ", nil), ErrEmptyPrompt)
	assert.NoError(t, h.ctrl.Submit(ctx, h.id, "", []string{"aW1n"}), "image only is allowed")

	require.NoError(t, h.ctrl.Models().Select(""))
	assert.ErrorIs(t, h.ctrl.Submit(ctx, h.id, "", nil), ErrNoModel, "model is checked first")

	assert.Len(t, client.requests, 1)
}

func TestSubmit_Busy(t *testing.T) {
	client := &fakeClient{result: ollama.SendResult{Success: true, FullResponse: "x"}, chunks: []string{"x"}}
	h := newHarness(t, client, nil)
	ctx := context.Background()

	var nested error
	client.during = func() {
		nested = h.ctrl.Submit(ctx, h.id, "again", nil)
	}
	require.NoError(t, h.ctrl.Submit(ctx, h.id, "first", nil))
	assert.ErrorIs(t, nested, ErrBusy)
	assert.Len(t, h.history(t), 2)
}

func TestSubmit_RequestCarriesHistoryRulesAndImages(t *testing.T) {
	client := &fakeClient{chunks: []string{"ok"}, result: ollama.SendResult{Success: true, FullResponse: "ok", Model: "llama2"}}
	h := newHarness(t, client, func(c *Config) {
		c.Rules = fakeRules{merged: "G\n\nA"}
		c.Timeout = 5 * time.Second
	})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Submit(ctx, h.id, "one", nil))
	require.NoError(t, h.ctrl.Submit(ctx, h.id, "two", []string{"aW1n"}))

	req := client.last(t)
	assert.Equal(t, "llama2", req.Model)
	assert.Equal(t, "two", req.Content)
	assert.Equal(t, []string{"aW1n"}, req.Images)
	assert.Equal(t, "G\n\nA", req.Rules)
	assert.Equal(t, 5*time.Second, req.Timeout)
	assert.Equal(t, []ollama.Message{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "ok"},
	}, req.History)

	msgs := h.history(t)
	require.Len(t, msgs, 4)
	assert.Equal(t, []string{"aW1n"}, msgs[2].Images)
	assert.Equal(t, fixedNow, msgs[2].Timestamp)
}

func TestSubmit_RulesFailureStillSends(t *testing.T) {
	client := &fakeClient{result: ollama.SendResult{Success: true}}
	h := newHarness(t, client, func(c *Config) {
		c.Rules = fakeRules{err: errors.New("rules unavailable")}
	})

	require.NoError(t, h.ctrl.Submit(context.Background(), h.id, "hi", nil))
	assert.Equal(t, "", client.last(t).Rules)
	assert.Empty(t, h.notes.notes)
}

func TestSubmit_FailureKeepsPromptDropsPartialReply(t *testing.T) {
	sendErr := &ollama.ClientError{Type: ollama.ErrTypeStream, Message: "out of memory"}
	client := &fakeClient{
		chunks: []string{"par", "tial"},
		result: ollama.SendResult{Success: false, Err: sendErr},
	}
	h := newHarness(t, client, nil)

	err := h.ctrl.Submit(context.Background(), h.id, "hello", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, sendErr)

	msgs := h.history(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)

	require.Len(t, h.notes.notes, 1)
	assert.Equal(t, MsgSendFailed, h.notes.notes[0].Message)
	assert.Contains(t, h.notes.notes[0].String(), "out of memory")

	snap := h.ctrl.Stream().Snapshot()
	assert.False(t, snap.Streaming)
	assert.Nil(t, snap.Chunks)
}

func TestSubmit_EmptyReplyIsPersisted(t *testing.T) {
	client := &fakeClient{result: ollama.SendResult{Success: true, FullResponse: ""}}
	h := newHarness(t, client, nil)

	require.NoError(t, h.ctrl.Submit(context.Background(), h.id, "say nothing", nil))
	msgs := h.history(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "", msgs[1].Content)
}

func TestSubmit_SaveReplyFailureReturnsToIdle(t *testing.T) {
	client := &fakeClient{chunks: []string{"a"}, result: ollama.SendResult{Success: true, FullResponse: "a"}}
	h := newHarness(t, client, nil)
	h.ctrl.convs = failingAppend{Manager: h.convs, role: conversation.RoleAssistant}

	err := h.ctrl.Submit(context.Background(), h.id, "hi", nil)
	require.Error(t, err)
	assert.False(t, h.ctrl.Streaming())
	require.Len(t, h.notes.notes, 1)
	assert.Equal(t, MsgSaveFailed, h.notes.notes[0].Message)
}

func TestSubmit_SavePromptFailureSendsNothing(t *testing.T) {
	client := &fakeClient{result: ollama.SendResult{Success: true}}
	h := newHarness(t, client, nil)
	h.ctrl.convs = failingAppend{Manager: h.convs, role: conversation.RoleUser}

	require.Error(t, h.ctrl.Submit(context.Background(), h.id, "hi", nil))
	assert.Empty(t, client.requests)
	assert.False(t, h.ctrl.Streaming())
}

func TestSubmit_UnknownConversation(t *testing.T) {
	client := &fakeClient{result: ollama.SendResult{Success: true}}
	h := newHarness(t, client, nil)

	err := h.ctrl.Submit(context.Background(), "missing", "hi", nil)
	assert.ErrorIs(t, err, store.ErrItemNotFound)
	assert.Empty(t, client.requests)
	require.Len(t, h.notes.notes, 1)
	assert.Equal(t, MsgLoadFailed, h.notes.notes[0].Message)
}

func TestSubmit_StreamVisibleOnlyWhileStreaming(t *testing.T) {
	client := &fakeClient{chunks: []string{"Hi", " there"}, result: ollama.SendResult{Success: true, FullResponse: "Hi there"}}
	h := newHarness(t, client, nil)

	var during state.StreamSnapshot
	client.during = func() { during = h.ctrl.Stream().Snapshot() }

	require.NoError(t, h.ctrl.Submit(context.Background(), h.id, "hello", nil))
	assert.True(t, during.Streaming)
	assert.Equal(t, []string{"Hi", " there"}, during.Chunks)
	assert.Nil(t, h.ctrl.Stream().Snapshot().Chunks)
}

func TestSubmit_AutoTitle(t *testing.T) {
	client := &fakeClient{result: ollama.SendResult{Success: true}}
	h := newHarness(t, client, func(c *Config) { c.AutoTitle = true })
	ctx := context.Background()

	require.NoError(t, h.ctrl.Submit(ctx, h.id, "  plan a\ttrip to Lisbon  ", nil))
	info, err := h.convs.Get(ctx, h.id)
	require.NoError(t, err)
	assert.Equal(t, "plan a trip to Lisbon", info.Title)

	require.NoError(t, h.ctrl.Submit(ctx, h.id, "second prompt", nil))
	info, err = h.convs.Get(ctx, h.id)
	require.NoError(t, err)
	assert.Equal(t, "plan a trip to Lisbon", info.Title, "only the first prompt titles")
}

func TestSubmit_AutoTitleKeepsUserTitle(t *testing.T) {
	client := &fakeClient{result: ollama.SendResult{Success: true}}
	h := newHarness(t, client, func(c *Config) { c.AutoTitle = true })
	ctx := context.Background()

	require.NoError(t, h.convs.Rename(ctx, h.id, "Mine"))
	require.NoError(t, h.ctrl.Submit(ctx, h.id, "hello", nil))
	info, err := h.convs.Get(ctx, h.id)
	require.NoError(t, err)
	assert.Equal(t, "Mine", info.Title)
}

// =============================================================================
// RETRY
// =============================================================================

func TestRetry_AppendsNewTurn(t *testing.T) {
	client := &fakeClient{chunks: []string{"r"}, result: ollama.SendResult{Success: true, FullResponse: "r"}}
	h := newHarness(t, client, nil)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Submit(ctx, h.id, "question", []string{"aW1n"}))
	before := h.history(t)

	require.NoError(t, h.ctrl.RetryLast(ctx, h.id))
	after := h.history(t)
	require.Len(t, after, 4)
	assert.Equal(t, before, after[:2], "earlier turns untouched")
	assert.Equal(t, "question", after[2].Content)
	assert.Equal(t, []string{"aW1n"}, after[2].Images)
	assert.Equal(t, conversation.RoleAssistant, after[3].Role)
}

func TestRetryLast_NothingToRetry(t *testing.T) {
	h := newHarness(t, &fakeClient{}, nil)
	assert.ErrorIs(t, h.ctrl.RetryLast(context.Background(), h.id), ErrNothingToRetry)
}
