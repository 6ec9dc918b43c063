// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FAKE SERVER
// =============================================================================

// fakeServer records chat requests and replies with the configured lines.
type fakeServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []ChatRequest
}

func newFakeServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, req ChatRequest)) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req ChatRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
			return
		}
		fs.mu.Lock()
		fs.requests = append(fs.requests, req)
		fs.mu.Unlock()
		handler(w, r, req)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) lastRequest(t *testing.T) ChatRequest {
	t.Helper()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NotEmpty(t, fs.requests)
	return fs.requests[len(fs.requests)-1]
}

// streamLines writes each piece and flushes, so the client sees separate
// network reads.
func streamLines(pieces ...string) func(http.ResponseWriter, *http.Request, ChatRequest) {
	return func(w http.ResponseWriter, r *http.Request, _ ChatRequest) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for _, p := range pieces {
			io.WriteString(w, p)
			flusher.Flush()
		}
	}
}

func newTestClient(url string) *Client {
	return NewClientWithConfig(&ClientConfig{BaseURL: url, RequestTimeout: 5 * time.Second})
}

// =============================================================================
// SEND CHAT MESSAGE
// =============================================================================

func TestSendChatMessage_StreamsChunksInOrder(t *testing.T) {
	srv := newFakeServer(t, streamLines(
		`{"message":{"role":"assistant","content":"Hi"},"done":false}`+"\n",
		`{"message":{"role":"assistant","con`,
		`tent":" there"},"done":true}`+"\n",
	))
	client := newTestClient(srv.URL)

	var chunks []string
	res := client.SendChatMessage(context.Background(), SendRequest{
		Model:   "llama2",
		Content: "hello",
		OnChunk: func(c string) { chunks = append(chunks, c) },
	})

	require.True(t, res.Success, "err: %v", res.Err)
	assert.NoError(t, res.Err)
	assert.Equal(t, []string{"Hi", " there"}, chunks)
	assert.Equal(t, "Hi there", res.FullResponse)
	assert.Equal(t, "llama2", res.Model)
}

func TestSendChatMessage_RequestBody(t *testing.T) {
	srv := newFakeServer(t, streamLines(`{"message":{"content":"ok"},"done":true}`+"\n"))
	client := newTestClient(srv.URL)

	res := client.SendChatMessage(context.Background(), SendRequest{
		Model:   "llava",
		Rules:   "G\n\nA",
		History: []Message{NewUserMessage("earlier"), NewAssistantMessage("reply")},
		Content: "what is this?",
		Images:  []string{"aW1n"},
	})
	require.True(t, res.Success)

	req := srv.lastRequest(t)
	assert.Equal(t, "llava", req.Model)
	assert.True(t, req.Stream)
	assert.Equal(t, []Message{
		{Role: RoleSystem, Content: "G\n\nA"},
		{Role: RoleUser, Content: "earlier"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "what is this?", Images: []string{"aW1n"}},
	}, req.Messages)
}

func TestSendChatMessage_NoRulesNoSystemMessage(t *testing.T) {
	srv := newFakeServer(t, streamLines(`{"message":{"content":"ok"},"done":true}`+"\n"))
	client := newTestClient(srv.URL)

	res := client.SendChatMessage(context.Background(), SendRequest{Model: "m", Rules: "  \n", Content: "hi"})
	require.True(t, res.Success)

	req := srv.lastRequest(t)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, RoleUser, req.Messages[0].Role)
}

func TestSendChatMessage_MalformedLineTolerated(t *testing.T) {
	srv := newFakeServer(t, streamLines(
		`{"message":{"content":"A"},"done":false}`+"\n",
		`not json at all`+"\n",
		`{"message":{"content":"B"},"done":true}`+"\n",
	))
	res := newTestClient(srv.URL).SendChatMessage(context.Background(), SendRequest{Model: "m", Content: "x"})
	require.True(t, res.Success)
	assert.Equal(t, "AB", res.FullResponse)
}

func TestSendChatMessage_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler func(http.ResponseWriter, *http.Request, ChatRequest)
		check   func(t *testing.T, err error)
	}{
		{
			name: "model not found",
			handler: func(w http.ResponseWriter, r *http.Request, _ ChatRequest) {
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, `{"error":"model \"nope\" not found, try pulling it first"}`)
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsModelNotFound(err))
				assert.Contains(t, err.Error(), "try pulling it first")
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request, _ ChatRequest) {
				w.WriteHeader(http.StatusInternalServerError)
				io.WriteString(w, "boom")
			},
			check: func(t *testing.T, err error) {
				var ce *ClientError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, ErrTypeHTTPStatus, ce.Type)
				assert.Equal(t, http.StatusInternalServerError, ce.StatusCode)
			},
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request, _ ChatRequest) {
				w.WriteHeader(http.StatusOK)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNoBody)
			},
		},
		{
			name: "error line mid stream",
			handler: streamLines(
				`{"message":{"content":"par"},"done":false}`+"\n",
				`{"error":"out of memory"}`+"\n",
			),
			check: func(t *testing.T, err error) {
				var ce *ClientError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, ErrTypeStream, ce.Type)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer(t, tt.handler)
			res := newTestClient(srv.URL).SendChatMessage(context.Background(), SendRequest{Model: "m", Content: "x"})
			assert.False(t, res.Success)
			assert.Empty(t, res.FullResponse)
			require.Error(t, res.Err)
			tt.check(t, res.Err)
		})
	}
}

func TestSendChatMessage_TimeoutAbortsStream(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request, _ ChatRequest) {
		io.WriteString(w, `{"message":{"content":"slow"},"done":false}`+"\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	client := newTestClient(srv.URL)

	var chunks []string
	start := time.Now()
	res := client.SendChatMessage(context.Background(), SendRequest{
		Model:   "m",
		Content: "x",
		Timeout: 100 * time.Millisecond,
		OnChunk: func(c string) { chunks = append(chunks, c) },
	})

	assert.False(t, res.Success)
	assert.True(t, IsTimeout(res.Err), "err: %v", res.Err)
	assert.Equal(t, []string{"slow"}, chunks)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSendChatMessage_CallerCancel(t *testing.T) {
	started := make(chan struct{})
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request, _ ChatRequest) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res := newTestClient(srv.URL).SendChatMessage(ctx, SendRequest{Model: "m", Content: "x", Timeout: NoTimeout})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrCanceled)
}

func TestSendChatMessage_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := newTestClient(url).SendChatMessage(context.Background(), SendRequest{Model: "m", Content: "x"})
	assert.False(t, res.Success)
	assert.True(t, IsNotRunning(res.Err), "err: %v", res.Err)
}

func TestSendChatMessage_NoModel(t *testing.T) {
	res := newTestClient("http://127.0.0.1:1").SendChatMessage(context.Background(), SendRequest{Content: "x"})
	assert.False(t, res.Success)
	var ce *ClientError
	require.ErrorAs(t, res.Err, &ce)
	assert.Equal(t, ErrTypeInvalidRequest, ce.Type)
}

// =============================================================================
// OTHER ENDPOINTS
// =============================================================================

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		io.WriteString(w, `{"models":[
			{"name":"llama3.2:latest","model":"llama3.2:latest","modified_at":"2025-01-02T03:04:05Z","size":2019393189,"digest":"abc",
			 "details":{"parent_model":"","format":"gguf","family":"llama","families":["llama"],"parameter_size":"3.2B","quantization_level":"Q4_K_M"}},
			{"model":"nameless"},
			{"name":"llava"}
		]}`)
	}))
	defer srv.Close()

	models, err := newTestClient(srv.URL).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3.2:latest", models[0].Name)
	assert.Equal(t, "3.2B", models[0].Details.ParameterSize)
	assert.Equal(t, []string{"llama"}, models[0].Details.Families)
	assert.Equal(t, "1.9 GB", models[0].FormatSize())
	assert.Equal(t, "llava", models[1].Model, "model defaults to name")
}

func TestListModels_BadShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"models":"none"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ListModels(context.Background())
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrTypeInvalidResponse, ce.Type)
}

func TestChat_NonStreaming(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request, req ChatRequest) {
		assert.False(t, req.Stream)
		io.WriteString(w, `{"model":"m","message":{"role":"assistant","content":"pong"},"done":true}`)
	})

	resp, err := newTestClient(srv.URL).Chat(context.Background(), "m", []Message{NewUserMessage("ping")})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Message.Content)
}

func TestChat_RequestTimeout(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request, _ ChatRequest) {
		<-r.Context().Done()
	})
	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, RequestTimeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := client.Chat(context.Background(), "m", []Message{NewUserMessage("ping")})
	assert.True(t, IsTimeout(err), "err: %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestGenerateTitle(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request, req ChatRequest) {
		last := req.Messages[len(req.Messages)-1]
		assert.Equal(t, RoleUser, last.Role)
		assert.Contains(t, last.Content, "title")
		io.WriteString(w, `{"message":{"role":"assistant","content":"  \"Planning a  Trip to Lisbon.\"\n"},"done":true}`)
	})
	client := newTestClient(srv.URL)

	title, err := client.GenerateTitle(context.Background(), "m", []Message{NewUserMessage("help me plan lisbon")})
	require.NoError(t, err)
	assert.Equal(t, "Planning a Trip to Lisbon", title)

	_, err = client.GenerateTitle(context.Background(), "m", nil)
	assert.Error(t, err)
}

func TestCheckRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Ollama is running")
	}))
	client := newTestClient(srv.URL)
	assert.NoError(t, client.CheckRunning(context.Background()))

	srv.Close()
	assert.True(t, IsNotRunning(client.CheckRunning(context.Background())))
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestNewClientWithConfig_Defaults(t *testing.T) {
	c := NewClientWithConfig(nil)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, 30*time.Second, c.RequestTimeout())

	c = NewClientWithConfig(&ClientConfig{BaseURL: "http://gpu-box:11434/", RequestTimeout: NoTimeout, DefaultModel: "qwen"})
	assert.Equal(t, "http://gpu-box:11434", c.BaseURL())
	assert.Equal(t, NoTimeout, c.RequestTimeout())
	assert.Equal(t, "qwen", c.DefaultModel())
}

func TestSetBaseURL(t *testing.T) {
	first := newFakeServer(t, streamLines(`{"message":{"content":"one"},"done":true}`+"\n"))
	second := newFakeServer(t, streamLines(`{"message":{"content":"two"},"done":true}`+"\n"))
	client := newTestClient(first.URL)

	res := client.SendChatMessage(context.Background(), SendRequest{Model: "m", Content: "x"})
	assert.Equal(t, "one", res.FullResponse)

	require.NoError(t, client.SetBaseURL(second.URL+"/"))
	assert.Equal(t, second.URL, client.BaseURL())
	res = client.SendChatMessage(context.Background(), SendRequest{Model: "m", Content: "x"})
	assert.Equal(t, "two", res.FullResponse)

	assert.Error(t, client.SetBaseURL("localhost:11434"))
	assert.Equal(t, second.URL, client.BaseURL(), "invalid url leaves the old one")
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:11434", "http://localhost:11434", false},
		{" https://llm.lan/ ", "https://llm.lan", false},
		{"http://10.0.0.5:8080/ollama/", "http://10.0.0.5:8080/ollama", false},
		{"ftp://host", "", true},
		{"localhost:11434", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeBaseURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages("", nil, "hi", nil)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "hi"}}, msgs)

	msgs = BuildMessages("rules", []Message{NewAssistantMessage("a")}, "", []string{"img"})
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, []string{"img"}, msgs[2].Images)
	assert.True(t, strings.HasPrefix(msgs[0].Content, "rules"))
}
