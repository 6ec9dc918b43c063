// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/jeranaias/rigchat/internal/logging"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Cause      error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches sentinels by Type.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	return ok && t.Type == e.Type
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeCanceled
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidRequest
	ErrTypeInvalidResponse
	ErrTypeHTTPStatus
	ErrTypeStream
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "model server is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrCanceled      = &ClientError{Type: ErrTypeCanceled, Message: "request canceled"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrNoBody        = &ClientError{Type: ErrTypeInvalidResponse, Message: "response has no body"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// DefaultBaseURL is the loopback address on the standard Ollama port.
const DefaultBaseURL = "http://localhost:11434"

// NoTimeout disables the chat request timeout when used as
// ClientConfig.RequestTimeout or SendRequest.Timeout.
const NoTimeout time.Duration = -1

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the server base URL (default: http://localhost:11434)
	BaseURL string

	// Timeout for short utility requests such as model listing (default: 10s)
	Timeout time.Duration

	// RequestTimeout bounds a whole chat exchange, from sending the request
	// to reading the last line (default: 30s, NoTimeout to disable)
	RequestTimeout time.Duration

	// DefaultModel is used when a request names no model
	DefaultModel string

	Logger logrus.FieldLogger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        DefaultBaseURL,
		Timeout:        10 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with an Ollama-compatible server.
//
// The Client is safe for concurrent use; SetBaseURL may be called while
// requests are in flight and affects only later requests.
//
// Example:
//
//	client := ollama.NewClient()
//	res := client.SendChatMessage(ctx, ollama.SendRequest{
//	    Model:   "llama3.2",
//	    Content: "Hello",
//	    OnChunk: func(s string) { fmt.Print(s) },
//	})
//	if !res.Success {
//	    log.Println("send failed:", res.Err)
//	}
type Client struct {
	mu     sync.RWMutex
	config ClientConfig

	httpClient   *http.Client
	streamClient *http.Client
	log          logrus.FieldLogger
}

// NewClient creates a new client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	// Fill in defaults for any zero values
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		// Streaming reads are bounded by the request context instead.
		streamClient: &http.Client{},
		log:          logging.OrDiscard(cfg.Logger),
	}
}

// BaseURL returns the current server base URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.BaseURL
}

// SetBaseURL points the client at a different server.
func (c *Client) SetBaseURL(raw string) error {
	normalized, err := NormalizeBaseURL(raw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.config.BaseURL = normalized
	c.mu.Unlock()
	c.log.WithField("url", normalized).Info("server url changed")
	return nil
}

// DefaultModel returns the model used when a request names none.
func (c *Client) DefaultModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.DefaultModel
}

// SetDefaultModel updates the default model.
func (c *Client) SetDefaultModel(model string) {
	c.mu.Lock()
	c.config.DefaultModel = model
	c.mu.Unlock()
}

// RequestTimeout returns the default chat exchange timeout.
func (c *Client) RequestTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.RequestTimeout
}

// NormalizeBaseURL checks that raw is an absolute http(s) URL and strips any
// trailing slash.
func NormalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", &ClientError{Type: ErrTypeInvalidRequest, Message: "invalid server url", Cause: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &ClientError{Type: ErrTypeInvalidRequest, Message: fmt.Sprintf("invalid server url %q: want http(s)://host:port", raw)}
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func (c *Client) endpoint(path string) string {
	return c.BaseURL() + path
}

func (c *Client) model(model string) string {
	if model != "" {
		return model
	}
	return c.DefaultModel()
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that the server is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/"), nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:       ErrTypeConnection,
			Message:    "unexpected status from server: " + resp.Status,
			StatusCode: resp.StatusCode,
		}
	}
	return nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all models installed on the server. Entries without
// a name are dropped.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/tags"), nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("failed to list models", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if !gjson.ValidBytes(body) || !gjson.GetBytes(body, "models").IsArray() {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "unexpected /api/tags response"}
	}

	var result ListModelsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	models := result.Models[:0]
	for _, m := range result.Models {
		if m.Name == "" {
			c.log.Debug("skipping model entry without a name")
			continue
		}
		if m.Model == "" {
			m.Model = m.Name
		}
		models = append(models, m)
	}
	return models, nil
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// Chat sends a chat request and returns the complete response (non-streaming).
// It is meant for short utility calls; the main chat path streams. The
// client's RequestTimeout bounds the call.
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	if timeout := c.RequestTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := c.postChat(ctx, c.streamClient, model, messages, false)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if e := gjson.GetBytes(body, "error"); e.Exists() {
		return nil, &ClientError{Type: ErrTypeStream, Message: e.String()}
	}
	if !gjson.ValidBytes(body) || gjson.GetBytes(body, "message.content").Type != gjson.String {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "unexpected /api/chat response"}
	}

	var result ChatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return &result, nil
}

// StreamCallback is called for each decoded line that carries content or
// marks the end of the reply.
type StreamCallback func(chunk StreamChunk)

// ChatStream sends a streaming chat request and calls callback for each
// chunk, synchronously and in the order the server sent them. It returns when
// the body is exhausted, the server reports an error, or ctx ends.
func (c *Client) ChatStream(ctx context.Context, model string, messages []Message, callback StreamCallback) error {
	resp, err := c.postChat(ctx, c.streamClient, model, messages, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := NewStreamReader(resp.Body, c.log)
	if err := reader.Process(ctx, callback); err != nil {
		var clientErr *ClientError
		if errors.As(err, &clientErr) {
			return err
		}
		return transportError(ctx, err)
	}
	return nil
}

func (c *Client) postChat(ctx context.Context, hc *http.Client, model string, messages []Message, stream bool) (*http.Response, error) {
	model = c.model(model)
	if model == "" {
		return nil, &ClientError{Type: ErrTypeInvalidRequest, Message: "no model selected"}
	}

	body, err := json.Marshal(ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	})
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidRequest, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/chat"), bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "application/x-ndjson")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer drainAndClose(resp.Body)
		return nil, statusError("chat request failed", resp)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrNoBody
	}
	return resp, nil
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// transportError classifies a failure to reach the server or to read from it.
func transportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &ClientError{Type: ErrTypeCanceled, Message: "request canceled", Cause: err}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &ClientError{Type: ErrTypeConnection, Message: "connection closed mid-response", Cause: err}
	}
	return &ClientError{Type: ErrTypeNotRunning, Message: "cannot reach model server", Cause: err}
}

// statusError builds an error for a non-200 response, preferring the
// server's {"error": "..."} message when there is one.
func statusError(prefix string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := prefix + ": " + resp.Status
	if e := gjson.GetBytes(body, "error"); e.Exists() && e.String() != "" {
		msg = e.String()
	}

	errType := ErrTypeHTTPStatus
	if resp.StatusCode == http.StatusNotFound {
		errType = ErrTypeModelNotFound
	}
	return &ClientError{Type: errType, Message: msg, StatusCode: resp.StatusCode}
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}

// IsNotRunning checks if an error indicates the server is not running.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// drainAndClose lets the transport reuse the connection.
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(r, 64<<10))
	r.Close()
}
