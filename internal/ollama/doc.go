// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for an Ollama-compatible model
// server.
//
// # Key Types
//
//   - Client: HTTP client for /api/chat, /api/tags and the health check
//   - SendRequest / SendResult: one streamed user turn and its outcome
//   - StreamReader: newline-delimited JSON decoder for streamed replies
//   - ClientError: typed failure with an ErrorType for handling
//
// # Usage
//
// Stream a reply, printing text as it arrives:
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	res := client.SendChatMessage(ctx, ollama.SendRequest{
//	    Model:   "llama3.2",
//	    History: history,
//	    Rules:   merged,
//	    Content: "Hello",
//	    OnChunk: func(s string) { fmt.Print(s) },
//	})
//	if !res.Success {
//	    return res.Err
//	}
//
// SendChatMessage never returns a Go error: transport failures, non-200
// responses, server error lines and timeouts all come back as a SendResult
// with Success=false.
package ollama
