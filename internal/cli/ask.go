// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - The "ask" command: one prompt, one streamed reply.
//
// Usage:
//
//	rigchat ask "why is the sky blue?"
//	rigchat ask --chat 3f2a... "and at sunset?"
//	rigchat ask --image cat.png "what breed is this?"
//	echo "summarize this" | rigchat ask
//
// Every ask is saved: without --chat a new conversation is created, so the
// exchange shows up in the TUI sidebar afterwards.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jeranaias/rigchat/internal/images"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/state"
)

// maxStdinPrompt bounds a prompt read from a pipe.
const maxStdinPrompt = 1 << 20

// HandleAsk handles the "ask" command.
func HandleAsk(ctx context.Context, app *App, args Args) error {
	p := NewArgParser(args.Raw, "raw")

	prompt := JoinPositionalArgs(p, 0)
	if prompt == "" && !app.Interactive {
		data, err := io.ReadAll(io.LimitReader(app.In, maxStdinPrompt))
		if err != nil {
			return fmt.Errorf("read prompt from stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}

	var attached []string
	for _, path := range p.Flags("image") {
		payload, err := images.Load(path)
		if err != nil {
			return NewValidationErrorWithExample("image", path, err.Error(), "rigchat ask --image photo.png \"describe this\"")
		}
		attached = append(attached, payload)
	}

	if prompt == "" && len(attached) == 0 {
		return ErrMissingArgument("prompt", `ask "your question"`)
	}

	app.warnReduced()

	model, err := app.ResolveModel(ctx)
	if err != nil {
		return err
	}

	id := p.Flag("chat")
	if id != "" {
		if _, err := app.Conversations.Get(ctx, id); err != nil {
			return notFound("conversation", id, err)
		}
	} else {
		id, err = app.Conversations.Create(ctx)
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
	}

	app.Log.WithField("conversation", id).WithField("model", model).Debug("ask")

	ctl := app.NewController(nil)
	var renderer *MarkdownRenderer
	if useMarkdown(app.Config.Chat.RenderMarkdown, p.BoolFlag("raw")) {
		renderer = NewMarkdownRenderer(GetTerminalWidth() - 4)
	}
	if err := streamReply(ctx, ctl, app.Out, renderer, id, prompt, attached); err != nil {
		return err
	}

	if !app.Quiet {
		fmt.Fprintf(app.Err, "%s %s\n", DimStyle.Render("[saved]"), id)
	}
	return nil
}

// =============================================================================
// STREAMING OUTPUT
// =============================================================================

// chunkPrinter writes stream chunks to w in arrival order and remembers the
// text seen so far.
type chunkPrinter struct {
	w    io.Writer
	echo bool

	mu      sync.Mutex
	printed int
	text    strings.Builder
}

func (p *chunkPrinter) listen(snap state.StreamSnapshot) {
	if !snap.Streaming {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(snap.Chunks) < p.printed {
		// A new stream began.
		p.printed = 0
		p.text.Reset()
	}
	for ; p.printed < len(snap.Chunks); p.printed++ {
		chunk := snap.Chunks[p.printed]
		p.text.WriteString(chunk)
		if p.echo {
			_, _ = io.WriteString(p.w, chunk)
		}
	}
}

func (p *chunkPrinter) reply() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text.String()
}

// streamReply submits one prompt through ctl. Without a renderer the reply is
// echoed chunk by chunk; with one, the finished reply is rendered as markdown.
func streamReply(ctx context.Context, ctl *session.Controller, w io.Writer, renderer *MarkdownRenderer, id, prompt string, attached []string) error {
	printer := &chunkPrinter{w: w, echo: renderer == nil}
	unsubscribe := ctl.Stream().Subscribe(printer.listen)
	defer unsubscribe()

	err := ctl.Submit(ctx, id, prompt, attached)
	reply := printer.reply()

	if renderer != nil && err == nil {
		fmt.Fprint(w, renderer.Render(reply))
		return nil
	}
	if printer.echo && (reply != "" || err == nil) {
		fmt.Fprintln(w)
	}
	return err
}
