// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/jeranaias/rigchat/internal/logging"
)

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader decodes a newline-delimited JSON reply.
//
// Network reads may end anywhere, including in the middle of a JSON object;
// the bufio.Reader keeps the partial line until its newline arrives. Lines
// that are blank are ignored. Lines that are not JSON objects of the expected
// shape are logged and skipped without ending the stream. A line carrying an
// "error" field ends the stream with an ErrTypeStream error.
type StreamReader struct {
	reader *bufio.Reader
	log    logrus.FieldLogger

	// PERFORMANCE: strings.Builder avoids quadratic allocations
	accumulator strings.Builder
	chunks      int
	skipped     int
	model       string
	done        bool
	final       StreamChunk
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader, log logrus.FieldLogger) *StreamReader {
	return &StreamReader{
		reader: bufio.NewReader(r),
		log:    logging.OrDiscard(log),
	}
}

// Process reads the stream to the end and calls callback for each chunk.
// A line with done=true is passed to callback, but reading continues until
// EOF so that nothing the server sent afterwards is lost.
func (s *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, readErr := s.reader.ReadBytes('\n')
		if len(line) > 0 {
			chunk, err := s.decodeLine(line)
			if err != nil {
				return err
			}
			if chunk != nil && callback != nil {
				callback(*chunk)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

// streamLine is the subset of a reply line the client uses.
type streamLine struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done               bool   `json:"done"`
	DoneReason         string `json:"done_reason"`
	TotalDuration      int64  `json:"total_duration"`
	LoadDuration       int64  `json:"load_duration"`
	PromptEvalCount    int    `json:"prompt_eval_count"`
	PromptEvalDuration int64  `json:"prompt_eval_duration"`
	EvalCount          int    `json:"eval_count"`
	EvalDuration       int64  `json:"eval_duration"`
}

// decodeLine returns the chunk for one line, nil for lines that carry
// nothing to report, or an error when the server reported one.
func (s *StreamReader) decodeLine(line []byte) (*StreamChunk, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}

	if reason := checkShape(line); reason != "" {
		s.skipped++
		s.log.WithField("reason", reason).WithField("line", truncateLine(line)).Debug("skipping malformed stream line")
		return nil, nil
	}

	if e := gjson.GetBytes(line, "error"); e.Exists() {
		return nil, &ClientError{Type: ErrTypeStream, Message: "server error: " + e.String()}
	}

	var resp streamLine
	if err := json.Unmarshal(line, &resp); err != nil {
		s.skipped++
		s.log.WithError(err).Debug("skipping undecodable stream line")
		return nil, nil
	}

	if resp.Model != "" {
		s.model = resp.Model
	}

	content := resp.Message.Content
	if content != "" {
		s.accumulator.WriteString(content)
		s.chunks++
	}

	chunk := &StreamChunk{
		Content: content,
		Done:    resp.Done,
		Model:   s.model,
	}

	if resp.Done {
		s.done = true
		chunk.DoneReason = resp.DoneReason
		chunk.TotalDuration = time.Duration(resp.TotalDuration)
		chunk.LoadDuration = time.Duration(resp.LoadDuration)
		chunk.PromptEvalDuration = time.Duration(resp.PromptEvalDuration)
		chunk.EvalDuration = time.Duration(resp.EvalDuration)
		chunk.PromptTokens = resp.PromptEvalCount
		chunk.CompletionTokens = resp.EvalCount
		s.final = *chunk
	}

	if content == "" && !resp.Done {
		return nil, nil
	}
	return chunk, nil
}

// checkShape validates a line against the reply schema and returns why it
// was rejected, or "" if it is acceptable.
func checkShape(line []byte) string {
	if !gjson.ValidBytes(line) {
		return "invalid json"
	}
	root := gjson.ParseBytes(line)
	if !root.IsObject() {
		return "not an object"
	}
	if msg := root.Get("message"); msg.Exists() {
		if !msg.IsObject() {
			return "message is not an object"
		}
		if content := msg.Get("content"); content.Exists() && content.Type != gjson.String {
			return "message.content is not a string"
		}
	}
	if done := root.Get("done"); done.Exists() && done.Type != gjson.True && done.Type != gjson.False {
		return "done is not a boolean"
	}
	return ""
}

func truncateLine(line []byte) string {
	const maxLen = 120
	if len(line) <= maxLen {
		return string(line)
	}
	return string(line[:maxLen]) + "..."
}

// GetAccumulated returns all accumulated content.
func (s *StreamReader) GetAccumulated() string {
	return s.accumulator.String()
}

// ChunkCount returns the number of non-empty content chunks received.
func (s *StreamReader) ChunkCount() int {
	return s.chunks
}

// Skipped returns the number of malformed lines that were ignored.
func (s *StreamReader) Skipped() int {
	return s.skipped
}

// Done reports whether a line with done=true was seen.
func (s *StreamReader) Done() bool {
	return s.done
}

// Final returns the done=true chunk with its statistics.
func (s *StreamReader) Final() StreamChunk {
	return s.final
}

// GetModel returns the model name from the stream.
func (s *StreamReader) GetModel() string {
	return s.model
}
