// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive line-mode chat.
//
// Handles the "rigchat chat" command, a REPL over the same conversation store
// the TUI uses. A conversation is created lazily with the first prompt unless
// --chat picks an existing one.
//
// Examples:
//
//	rigchat chat                      Start a new conversation
//	rigchat chat --chat 3f2a...       Continue a saved conversation
//	rigchat chat -m llama3.2 --raw    Pick a model, never render markdown
//
// Interactive Commands (during chat):
//
//	/help, /h           Show available commands
//	/new                Start a new conversation
//	/list               List saved conversations
//	/switch ID          Continue another conversation
//	/rename TITLE       Rename the current conversation
//	/title              Let the model title the current conversation
//	/delete             Delete the current conversation
//	/retry              Re-send the last prompt
//	/model [NAME]       Show or switch model
//	/image PATH         Attach an image to the next prompt
//	/quit, /q           Exit chat
//	Ctrl+C              Cancel the reply in flight (exits at the prompt)
//	Ctrl+D              Exit chat
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/conversation"
	"github.com/jeranaias/rigchat/internal/images"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/ui/styles"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	commandStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald)
)

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of user input per call.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI and loads the saved input history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from disk.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// Prompt reads a line with history navigation. Non-empty lines are added to
// the history.
func (c *ChatCLI) Prompt(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory writes input history to disk, readable by the owner only.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() error {
	c.SaveHistory()
	return c.line.Close()
}

// plainReader reads lines from a pipe or file.
type plainReader struct {
	scanner *bufio.Scanner
}

func newPlainReader(r io.Reader) *plainReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStdinPrompt)
	return &plainReader{scanner: scanner}
}

func (p *plainReader) Prompt(string) (string, error) {
	if p.scanner.Scan() {
		return p.scanner.Text(), nil
	}
	if err := p.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (p *plainReader) Close() error { return nil }

// =============================================================================
// COMMAND
// =============================================================================

// HandleChat handles the "chat" command.
func HandleChat(ctx context.Context, app *App, args Args) error {
	p := NewArgParser(args.Raw, "raw")

	if err := app.Client.CheckRunning(ctx); err != nil {
		return err
	}
	if _, err := app.ResolveModel(ctx); err != nil {
		return err
	}
	app.warnReduced()

	r := newREPL(app, useMarkdown(app.Config.Chat.RenderMarkdown, p.BoolFlag("raw")))
	if id := p.Flag("chat"); id != "" {
		if _, err := app.Conversations.Get(ctx, id); err != nil {
			return notFound("conversation", id, err)
		}
		r.chatID = id
	}

	var input lineReader
	if app.Interactive {
		input = NewChatCLI()
	} else {
		input = newPlainReader(app.In)
	}
	defer input.Close()

	if !app.Quiet {
		r.printWelcome(ctx)
	}

	prompt := promptStyle.Render("rigchat> ")
	for {
		line, err := input.Prompt(prompt)
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or end of input.
			fmt.Fprintln(r.out)
			return nil
		}
		if !r.runLine(ctx, line) {
			return nil
		}
	}
}

// runLine handles one line with Ctrl+C bound to canceling that line's work.
func (r *repl) runLine(ctx context.Context, line string) bool {
	lineCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-done:
		}
	}()

	return r.handleLine(lineCtx, line)
}

// =============================================================================
// REPL
// =============================================================================

type repl struct {
	app      *App
	ctl      *session.Controller
	out      io.Writer
	errOut   io.Writer
	renderer *MarkdownRenderer

	chatID  string
	pending []string

	// notified is set when the controller reported the last failure itself.
	notified bool
}

func newREPL(app *App, markdown bool) *repl {
	r := &repl{app: app, out: app.Out, errOut: app.Err}
	r.ctl = app.NewController(session.NotifierFunc(r.notify))
	if markdown {
		r.renderer = NewMarkdownRenderer(GetTerminalWidth() - 4)
	}
	return r
}

func (r *repl) notify(n session.Notification) {
	r.notified = true
	if errors.Is(n.Err, ollama.ErrCanceled) {
		fmt.Fprintln(r.errOut, WarningStyle.Render("[canceled]"))
		return
	}
	fmt.Fprintln(r.errOut, styles.RenderWarning(n.String()))
}

func (r *repl) printErr(err error) {
	fmt.Fprintf(r.errOut, "%s %v\n", ErrorStyle.Render("[Error]"), err)
}

// handleLine processes one line of input. It returns false when the user
// asked to leave.
func (r *repl) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return true
	case strings.EqualFold(line, "exit"), strings.EqualFold(line, "quit"):
		return false
	case strings.HasPrefix(line, "/"):
		return r.handleSlashCommand(ctx, line)
	}

	if err := r.send(ctx, line); err != nil && !errors.Is(err, errAlreadyReported) {
		r.printErr(err)
	}
	return true
}

// errAlreadyReported marks a failure the notifier has shown.
var errAlreadyReported = errors.New("reported")

// send submits text plus any staged images to the current conversation,
// creating one first when needed.
func (r *repl) send(ctx context.Context, text string) error {
	if r.chatID == "" {
		id, err := r.app.Conversations.Create(ctx)
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		r.chatID = id
	}

	attached := r.pending
	r.pending = nil
	return r.exchange(ctx, func(ctx context.Context) error {
		return r.ctl.Submit(ctx, r.chatID, text, attached)
	})
}

// exchange runs fn while streaming its reply to the terminal.
func (r *repl) exchange(ctx context.Context, fn func(context.Context) error) error {
	r.notified = false
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, assistantLabelStyle.Render(r.ctl.Models().Selected()))

	printer := &chunkPrinter{w: r.out, echo: r.renderer == nil}
	unsubscribe := r.ctl.Stream().Subscribe(printer.listen)
	err := fn(ctx)
	unsubscribe()

	reply := printer.reply()
	switch {
	case err == nil && r.renderer != nil:
		fmt.Fprint(r.out, r.renderer.Render(reply))
	case printer.echo && reply != "":
		fmt.Fprintln(r.out)
	}
	fmt.Fprintln(r.out)

	if err != nil && r.notified {
		return errAlreadyReported
	}
	return err
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (r *repl) handleSlashCommand(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	rest := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))

	var err error
	switch command {
	case "/help", "/h", "/?", "/":
		r.printHelp()
	case "/quit", "/q", "/exit":
		return false
	case "/new", "/n":
		err = r.newConversation(ctx)
	case "/list", "/ls":
		err = r.listConversations(ctx)
	case "/switch", "/open":
		err = r.switchConversation(ctx, rest)
	case "/rename":
		err = r.rename(ctx, rest)
	case "/title":
		err = r.generateTitle(ctx)
	case "/delete":
		err = r.deleteConversation(ctx)
	case "/retry", "/r":
		err = r.retry(ctx)
	case "/model", "/m":
		err = r.model(rest)
	case "/image", "/img":
		err = r.attach(rest)
	default:
		err = fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
	if err != nil && !errors.Is(err, errAlreadyReported) {
		r.printErr(err)
	}
	return true
}

func (r *repl) newConversation(ctx context.Context) error {
	id, err := r.app.Conversations.Create(ctx)
	if err != nil {
		return err
	}
	r.chatID = id
	r.pending = nil
	fmt.Fprintln(r.out, styles.RenderSuccess("new conversation "+id))
	return nil
}

func (r *repl) listConversations(ctx context.Context) error {
	infos, err := r.app.Conversations.List(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No conversations yet."))
		return nil
	}
	for _, info := range infos {
		marker := "  "
		if info.ID == r.chatID {
			marker = commandStyle.Render("* ")
		}
		fmt.Fprintf(r.out, "%s%s  %s\n", marker, DimStyle.Render(info.ID), info.Title)
	}
	return nil
}

func (r *repl) switchConversation(ctx context.Context, id string) error {
	if id == "" {
		return ErrMissingArgument("id", "/switch ID")
	}
	info, err := r.app.Conversations.Get(ctx, id)
	if err != nil {
		return notFound("conversation", id, err)
	}
	history, err := r.app.Conversations.History(ctx, id)
	if err != nil {
		return err
	}
	r.chatID = id
	r.pending = nil
	fmt.Fprintf(r.out, "%s %s\n", commandStyle.Render("[OK]"), info.Title)
	printTranscript(r.out, history, r.renderer)
	return nil
}

func (r *repl) rename(ctx context.Context, title string) error {
	if r.chatID == "" {
		return errors.New("no conversation yet; send a message first")
	}
	if err := r.app.Conversations.Rename(ctx, r.chatID, title); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s renamed to %s\n", commandStyle.Render("[OK]"), conversation.NormalizeTitle(title))
	return nil
}

func (r *repl) generateTitle(ctx context.Context) error {
	if r.chatID == "" {
		return errors.New("no conversation yet; send a message first")
	}
	history, err := r.app.Conversations.History(ctx, r.chatID)
	if err != nil {
		return err
	}
	title, err := r.app.Client.GenerateTitle(ctx, r.ctl.Models().Selected(), toWire(history))
	if err != nil {
		return err
	}
	return r.rename(ctx, title)
}

func (r *repl) deleteConversation(ctx context.Context) error {
	if r.chatID == "" {
		return errors.New("no conversation to delete")
	}
	if err := r.app.Conversations.Delete(ctx, r.chatID); err != nil {
		return err
	}
	fmt.Fprintln(r.out, styles.RenderSuccess("deleted "+r.chatID))
	r.chatID = ""
	r.pending = nil
	return nil
}

func (r *repl) retry(ctx context.Context) error {
	if r.chatID == "" {
		return session.ErrNothingToRetry
	}
	return r.exchange(ctx, func(ctx context.Context) error {
		return r.ctl.RetryLast(ctx, r.chatID)
	})
}

func (r *repl) model(name string) error {
	models := r.ctl.Models()
	if name == "" {
		fmt.Fprintf(r.out, "%s %s\n", InfoStyle.Render("[Model]"), commandStyle.Render(models.Selected()))
		for _, m := range models.List() {
			fmt.Fprintf(r.out, "  %s\n", DimStyle.Render(m))
		}
		return nil
	}
	if err := models.Select(name); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s switched to model %s\n", commandStyle.Render("[OK]"), name)
	return nil
}

func (r *repl) attach(path string) error {
	if path == "" {
		return ErrMissingArgument("path", "/image PATH")
	}
	payload, err := images.Load(path)
	if err != nil {
		return err
	}
	r.pending = append(r.pending, payload)
	fmt.Fprintf(r.out, "%s %d image(s) attached to the next prompt\n", commandStyle.Render("[OK]"), len(r.pending))
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

func (r *repl) printWelcome(ctx context.Context) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, welcomeStyle.Render("rigchat interactive chat"))
	fmt.Fprintln(r.out, RenderSeparator(30))
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Model:"), commandStyle.Render(r.ctl.Models().Selected()))
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Server:"), r.app.Client.BaseURL())

	chat := "new"
	if r.chatID != "" {
		chat = r.chatID
		if info, err := r.app.Conversations.Get(ctx, r.chatID); err == nil {
			chat = info.Title + " " + DimStyle.Render("("+r.chatID+")")
		}
	}
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Conversation:"), chat)
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, DimStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(r.out)
}

func (r *repl) printHelp() {
	commands := []struct {
		cmd  string
		desc string
	}{
		{"/new", "Start a new conversation"},
		{"/list", "List saved conversations"},
		{"/switch ID", "Continue another conversation"},
		{"/rename TITLE", "Rename the current conversation"},
		{"/title", "Let the model title the conversation"},
		{"/delete", "Delete the current conversation"},
		{"/retry", "Re-send the last prompt"},
		{"/model [NAME]", "Show or switch model"},
		{"/image PATH", "Attach an image to the next prompt"},
		{"/help, /h", "Show this help"},
		{"/quit, /q", "Exit chat"},
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, TitleStyle.Render("Available Commands"))
	for _, c := range commands {
		fmt.Fprintf(r.out, "  %s  %s\n", commandStyle.Render(fmt.Sprintf("%-15s", c.cmd)), DimStyle.Render(c.desc))
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, DimStyle.Render("Tip: Ctrl+C cancels the current reply, Ctrl+D exits"))
	fmt.Fprintln(r.out)
}

// printTranscript prints msgs oldest first. Assistant turns are rendered as
// markdown when renderer is non-nil.
func printTranscript(w io.Writer, msgs []conversation.Message, renderer *MarkdownRenderer) {
	for _, m := range msgs {
		var label string
		switch m.Role {
		case conversation.RoleUser:
			label = userLabelStyle.Render("You")
		case conversation.RoleSystem:
			label = systemLabelStyle.Render("System")
		default:
			name := m.Model
			if name == "" {
				name = "Assistant"
			}
			label = assistantLabelStyle.Render(name)
		}
		if !m.Timestamp.IsZero() {
			label += " " + DimStyle.Render(m.Timestamp.Local().Format("2006-01-02 15:04"))
		}
		fmt.Fprintln(w, label)

		content := m.Content
		if m.Role == conversation.RoleAssistant && renderer != nil {
			content = strings.TrimRight(renderer.Render(content), "\n")
		}
		if content != "" {
			fmt.Fprintln(w, content)
		}
		if n := len(m.Images); n > 0 {
			fmt.Fprintln(w, DimStyle.Render(fmt.Sprintf("[%d image(s)]", n)))
		}
		fmt.Fprintln(w)
	}
}

// toWire converts stored messages to request messages.
func toWire(history []conversation.Message) []ollama.Message {
	out := make([]ollama.Message, 0, len(history))
	for _, m := range history {
		out = append(out, ollama.Message{Role: string(m.Role), Content: m.Content, Images: m.Images})
	}
	return out
}
