// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigchat/internal/conversation"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/state"
	"github.com/jeranaias/rigchat/internal/ui/styles"
)

const (
	defaultMaxFPS = 30

	// Rows taken by everything except the transcript.
	headerHeight = 1
	inputHeight  = 3
	statusHeight = 1
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Conversations is the part of the conversation manager the screen uses.
type Conversations interface {
	List(ctx context.Context) ([]conversation.Info, error)
	Create(ctx context.Context) (string, error)
	Delete(ctx context.Context, id string) error
	History(ctx context.Context, id string) ([]conversation.Message, error)
}

// ModelLister lists the models installed on the server.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// Deps wires a Model.
type Deps struct {
	Conversations Conversations
	Models        ModelLister
	Controller    *session.Controller
	Sidebar       *state.Sidebar
	Log           logrus.FieldLogger

	// Reduced hides the sidebar and shows ReducedReason in a warning line.
	Reduced       bool
	ReducedReason error

	// MaxFPS caps transcript redraws while streaming.
	MaxFPS int

	// Markdown renders assistant replies with glamour.
	Markdown bool
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctx   context.Context
	deps  Deps
	ctl   *session.Controller
	log   logrus.FieldLogger
	keys  KeyMap
	theme *styles.Theme

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	markdown *glamour.TermRenderer

	conversations []conversation.Info
	activeID      string
	history       []conversation.Message

	// The exchange in flight. pending is the prompt shown until the
	// stored history is reloaded.
	streamID string
	pending  string
	stream   state.StreamSnapshot
	notified bool

	redraw         *rate.Limiter
	redrawInterval time.Duration
	redrawQueued   bool
	content        string

	status    string
	statusErr bool

	width  int
	height int
	ready  bool
}

// New creates the chat screen. ctx bounds every request the screen makes.
func New(ctx context.Context, deps Deps) Model {
	if deps.Sidebar == nil {
		deps.Sidebar = state.NewSidebar()
	}
	fps := deps.MaxFPS
	if fps <= 0 {
		fps = defaultMaxFPS
	}
	theme := styles.NewTheme()

	input := textinput.New()
	input.Placeholder = "Send a message..."
	input.Prompt = "> "
	input.PromptStyle = theme.InputPrompt
	input.CharLimit = 0
	input.Focus()

	spin := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(theme.Spinner),
	)

	return Model{
		ctx:            ctx,
		deps:           deps,
		ctl:            deps.Controller,
		log:            logging.OrDiscard(deps.Log),
		keys:           DefaultKeyMap(),
		theme:          theme,
		viewport:       viewport.New(0, 0),
		input:          input,
		spinner:        spin,
		redraw:         rate.NewLimiter(rate.Limit(fps), 1),
		redrawInterval: time.Second / time.Duration(fps),
	}
}

// Init loads the conversation list and the installed models.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.loadConversations(),
		m.loadModels(),
	)
}

// Update handles all messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case ConversationsLoadedMsg:
		return m.handleConversationsLoaded(msg)

	case HistoryLoadedMsg:
		if msg.ID != m.activeID {
			return m, nil
		}
		if msg.Err != nil {
			m.setError(session.MsgLoadFailed, msg.Err)
			return m, nil
		}
		m.history = msg.Messages
		m.refresh()
		return m, nil

	case ConversationCreatedMsg:
		if msg.Err != nil {
			m.setError("conversation could not be created", msg.Err)
			return m, nil
		}
		m.activeID = msg.ID
		m.history = nil
		cmd := m.startExchange(msg.ID, msg.Prompt, func(ctx context.Context) error {
			return m.ctl.Submit(ctx, msg.ID, msg.Prompt, nil)
		})
		return m, tea.Batch(m.loadConversations(), cmd)

	case ConversationDeletedMsg:
		if msg.Err != nil {
			m.setError("conversation could not be deleted", msg.Err)
			return m, nil
		}
		if msg.ID == m.activeID {
			m.activeID = ""
			m.history = nil
			m.refresh()
		}
		m.setStatus("Conversation deleted")
		return m, m.loadConversations()

	case StreamMsg:
		return m.handleStream(msg)

	case redrawMsg:
		m.redrawQueued = false
		m.refresh()
		return m, nil

	case ExchangeDoneMsg:
		return m.handleExchangeDone(msg)

	case NotificationMsg:
		m.notified = true
		m.setError(msg.Notification.Message, msg.Notification.Err)
		return m, nil

	case ModelsLoadedMsg:
		return m.handleModelsLoaded(msg)

	case ConfigReloadedMsg:
		if msg.Err != nil {
			m.setError("config reload failed", msg.Err)
			return m, nil
		}
		m.setStatus("Server: " + msg.URL)
		return m, m.loadModels()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Submit):
		return m.handleSubmit()

	case key.Matches(msg, m.keys.NewChat):
		m.activeID = ""
		m.history = nil
		m.setStatus("New conversation")
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.Delete):
		if m.activeID == "" {
			m.setStatus("No conversation selected")
			return m, nil
		}
		return m, m.deleteConversation(m.activeID)

	case key.Matches(msg, m.keys.Retry):
		if m.activeID == "" {
			m.setStatus("No conversation selected")
			return m, nil
		}
		if m.ctl.Streaming() {
			m.setError("", session.ErrBusy)
			return m, nil
		}
		id := m.activeID
		cmd := m.startExchange(id, "", func(ctx context.Context) error {
			return m.ctl.RetryLast(ctx, id)
		})
		return m, cmd

	case key.Matches(msg, m.keys.ToggleSidebar):
		if m.deps.Reduced {
			m.setStatus("Sidebar unavailable in reduced mode")
			return m, nil
		}
		m.deps.Sidebar.Toggle()
		m.layout()
		return m, nil

	case key.Matches(msg, m.keys.NextModel):
		name := m.ctl.Models().Next()
		if name == "" {
			m.setStatus("No models installed")
			return m, nil
		}
		m.setStatus("Model: " + name)
		return m, nil

	case key.Matches(msg, m.keys.NextChat):
		return m.cycleConversation(1)

	case key.Matches(msg, m.keys.PrevChat):
		return m.cycleConversation(-1)

	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}
	if m.ctl.Streaming() {
		m.setError("", session.ErrBusy)
		return m, nil
	}
	if m.ctl.Models().Selected() == "" {
		m.setError("", session.ErrNoModel)
		return m, nil
	}
	m.input.Reset()

	if m.activeID == "" {
		return m, m.createConversation(text)
	}
	id := m.activeID
	cmd := m.startExchange(id, text, func(ctx context.Context) error {
		return m.ctl.Submit(ctx, id, text, nil)
	})
	return m, cmd
}

// cycleConversation makes the conversation step places away the active one.
// Leaving a conversation does not stop a reply streaming into it.
func (m Model) cycleConversation(step int) (tea.Model, tea.Cmd) {
	n := len(m.conversations)
	if n == 0 {
		m.setStatus("No conversations")
		return m, nil
	}
	next := 0
	if i := m.indexOf(m.activeID); i >= 0 {
		next = ((i+step)%n + n) % n
	} else if step < 0 {
		next = n - 1
	}
	m.activeID = m.conversations[next].ID
	m.history = nil
	m.clearStatus()
	m.refresh()
	return m, m.loadHistory(m.activeID)
}

// =============================================================================
// RESULT HANDLING
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)
	m.ready = true
	m.layout()
	return m, nil
}

func (m Model) handleConversationsLoaded(msg ConversationsLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.setError("conversations could not be listed", msg.Err)
		return m, nil
	}
	m.conversations = msg.Conversations
	if m.activeID != "" && m.indexOf(m.activeID) < 0 {
		m.activeID = ""
		m.history = nil
		m.refresh()
	}
	return m, nil
}

func (m Model) handleModelsLoaded(msg ModelsLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.log.WithError(msg.Err).Warn("listing models failed")
		m.setError("models could not be listed", msg.Err)
		return m, nil
	}
	names := make([]string, 0, len(msg.Models))
	for _, info := range msg.Models {
		names = append(names, info.Name)
	}
	models := m.ctl.Models()
	models.Set(names)
	if models.Selected() == "" && len(names) > 0 {
		_ = models.Select(names[0])
	}
	if len(names) == 0 {
		m.setStatus("No models installed. Pull one with: ollama pull llama3.2")
	}
	return m, nil
}

// handleStream redraws the transcript for a stream change, at most MaxFPS
// times a second. The final snapshot is always drawn.
func (m Model) handleStream(msg StreamMsg) (tea.Model, tea.Cmd) {
	m.stream = msg.Snapshot
	if m.streamID == "" || m.streamID != m.activeID {
		return m, nil
	}
	if !msg.Snapshot.Streaming || m.redraw.Allow() {
		m.refresh()
		return m, nil
	}
	if m.redrawQueued {
		return m, nil
	}
	m.redrawQueued = true
	return m, tea.Tick(m.redrawInterval, func(time.Time) tea.Msg { return redrawMsg{} })
}

func (m Model) handleExchangeDone(msg ExchangeDoneMsg) (tea.Model, tea.Cmd) {
	m.streamID = ""
	m.pending = ""
	m.stream = state.StreamSnapshot{}

	// Failures after the stream began were already reported through the
	// notifier; the rest are guard errors.
	if msg.Err != nil && !m.notified {
		switch {
		case errors.Is(msg.Err, session.ErrNothingToRetry):
			m.setStatus("Nothing to retry")
		default:
			m.setError("", msg.Err)
		}
	}

	cmds := []tea.Cmd{m.loadConversations()}
	if msg.ID == m.activeID {
		cmds = append(cmds, m.loadHistory(msg.ID))
	}
	m.refresh()
	return m, tea.Batch(cmds...)
}

// =============================================================================
// COMMANDS
// =============================================================================

func (m *Model) startExchange(id, prompt string, run func(ctx context.Context) error) tea.Cmd {
	m.streamID = id
	m.pending = prompt
	m.notified = false
	m.clearStatus()
	m.refresh()

	ctx := m.ctx
	return func() tea.Msg {
		return ExchangeDoneMsg{ID: id, Err: run(ctx)}
	}
}

func (m Model) loadConversations() tea.Cmd {
	ctx, convs := m.ctx, m.deps.Conversations
	return func() tea.Msg {
		infos, err := convs.List(ctx)
		return ConversationsLoadedMsg{Conversations: infos, Err: err}
	}
}

func (m Model) loadHistory(id string) tea.Cmd {
	ctx, convs := m.ctx, m.deps.Conversations
	return func() tea.Msg {
		msgs, err := convs.History(ctx, id)
		return HistoryLoadedMsg{ID: id, Messages: msgs, Err: err}
	}
}

func (m Model) createConversation(prompt string) tea.Cmd {
	ctx, convs := m.ctx, m.deps.Conversations
	return func() tea.Msg {
		id, err := convs.Create(ctx)
		return ConversationCreatedMsg{ID: id, Prompt: prompt, Err: err}
	}
}

func (m Model) deleteConversation(id string) tea.Cmd {
	ctx, convs := m.ctx, m.deps.Conversations
	return func() tea.Msg {
		return ConversationDeletedMsg{ID: id, Err: convs.Delete(ctx, id)}
	}
}

func (m Model) loadModels() tea.Cmd {
	ctx, lister := m.ctx, m.deps.Models
	if lister == nil {
		return nil
	}
	return func() tea.Msg {
		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		models, err := lister.ListModels(reqCtx)
		return ModelsLoadedMsg{Models: models, Err: err}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Model) setStatus(s string) {
	m.status = s
	m.statusErr = false
}

func (m *Model) setError(prefix string, err error) {
	switch {
	case err == nil:
		m.status = prefix
	case prefix == "":
		m.status = err.Error()
	default:
		m.status = fmt.Sprintf("%s: %v", prefix, err)
	}
	m.statusErr = true
}

func (m *Model) clearStatus() {
	m.status = ""
	m.statusErr = false
}

func (m Model) indexOf(id string) int {
	for i, info := range m.conversations {
		if info.ID == id {
			return i
		}
	}
	return -1
}

func (m Model) sidebarVisible() bool {
	return !m.deps.Reduced && m.deps.Sidebar.Open() && m.theme.SidebarWidth() > 0
}

// layout sizes the viewport and input to the window and rebuilds the
// markdown renderer for the new width.
func (m *Model) layout() {
	if !m.ready {
		return
	}
	width := m.width
	if m.sidebarVisible() {
		width -= m.theme.SidebarWidth()
	}
	height := m.height - headerHeight - inputHeight - statusHeight
	if m.deps.Reduced {
		height--
	}
	m.viewport.Width = max(width, 1)
	m.viewport.Height = max(height, 1)
	m.input.Width = max(m.width-6, 1)

	if m.deps.Markdown {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(max(width-4, 20)),
		)
		if err != nil {
			m.log.WithError(err).Debug("markdown renderer unavailable")
			r = nil
		}
		m.markdown = r
	}
	m.refresh()
}

// refresh re-renders the transcript into the viewport and scrolls to the end.
func (m *Model) refresh() {
	m.content = m.renderTranscript()
	m.viewport.SetContent(m.content)
	m.viewport.GotoBottom()
}
