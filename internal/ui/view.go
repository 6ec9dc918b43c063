// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigchat/internal/conversation"
	"github.com/jeranaias/rigchat/internal/ui/styles"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the whole screen.
func (m Model) View() string {
	if !m.ready {
		return "\n  Loading..."
	}

	body := m.viewport.View()
	if m.sidebarVisible() {
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), body)
	}

	parts := []string{m.renderHeader(), body}
	if m.deps.Reduced {
		parts = append(parts, m.renderReducedWarning())
	}
	parts = append(parts, m.renderInput(), m.renderStatus())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderHeader() string {
	t := m.theme
	title := t.HeaderTitle.Render("rigchat")

	model := m.ctl.Models().Selected()
	if model == "" {
		model = "no model"
	}
	right := t.HeaderModel.Render(model)
	if m.ctl.Streaming() {
		right = m.spinner.View() + " " + right
	}

	gap := m.width - lipgloss.Width(title) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return t.Header.Width(m.width).Render(title + strings.Repeat(" ", gap) + right)
}

// =============================================================================
// SIDEBAR
// =============================================================================

func (m Model) renderSidebar() string {
	t := m.theme
	width := t.SidebarWidth()
	inner := width - 3 // border and padding

	lines := []string{t.SidebarTitle.Render("Chats")}
	if len(m.conversations) == 0 {
		lines = append(lines, t.SidebarEmpty.Render("No conversations"))
	}
	for _, info := range m.conversations {
		name := util.SingleLine(info.Title)
		title := util.TruncateWidth(name, inner-2)
		if info.ID == m.streamID && m.ctl.Streaming() {
			title = util.TruncateWidth(name, inner-4) + " " + m.spinner.View()
		}
		if info.ID == m.activeID {
			lines = append(lines, t.SidebarSelected.Width(inner).Render("› "+title))
			continue
		}
		lines = append(lines, t.SidebarItem.Width(inner).Render("  "+title))
	}

	return t.Sidebar.
		Width(width - 1).
		Height(m.viewport.Height).
		MaxHeight(m.viewport.Height).
		Render(strings.Join(lines, "\n"))
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// renderTranscript renders the stored history of the active conversation,
// then the prompt and the reply of an exchange in flight. Streamed text is
// shown raw until the reply is saved.
func (m Model) renderTranscript() string {
	t := m.theme
	width := m.viewport.Width - 2
	if width < 10 {
		width = 10
	}

	inFlight := m.streamID != "" && m.streamID == m.activeID
	if len(m.history) == 0 && !inFlight {
		return t.MessageMeta.Render("\n  Type a message and press Enter to start.")
	}

	var b strings.Builder
	for _, msg := range m.history {
		b.WriteString(m.renderMessage(msg, width))
		b.WriteString("\n")
	}

	if inFlight {
		if m.pending != "" {
			b.WriteString(m.renderMessage(conversation.Message{
				Role:    conversation.RoleUser,
				Content: m.pending,
			}, width))
			b.WriteString("\n")
		}
		b.WriteString(t.AssistantLabel.Render("Assistant"))
		b.WriteString(" ")
		b.WriteString(m.spinner.View())
		b.WriteString("\n")
		if text := m.stream.Text(); text != "" {
			b.WriteString(t.Streaming.Width(width).Render(text))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderMessage(msg conversation.Message, width int) string {
	t := m.theme

	var label string
	switch msg.Role {
	case conversation.RoleUser:
		label = t.UserLabel.Render("You")
	case conversation.RoleAssistant:
		label = t.AssistantLabel.Render("Assistant")
		if msg.Model != "" {
			label += " " + t.MessageMeta.Render(msg.Model)
		}
	default:
		label = t.SystemLabel.Render("System")
	}
	if n := len(msg.Images); n > 0 {
		label += " " + t.MessageMeta.Render(pluralImages(n))
	}

	body := msg.Content
	if msg.Role == conversation.RoleAssistant && m.markdown != nil && strings.TrimSpace(body) != "" {
		if out, err := m.markdown.Render(body); err == nil {
			return label + "\n" + strings.TrimRight(out, "\n") + "\n"
		}
	}
	return label + "\n" + t.MessageBody.Width(width).Render(body) + "\n"
}

func pluralImages(n int) string {
	if n == 1 {
		return "[1 image]"
	}
	return fmt.Sprintf("[%d images]", n)
}

// =============================================================================
// INPUT AND STATUS
// =============================================================================

func (m Model) renderInput() string {
	return m.theme.InputContainer.Width(max(m.width-2, 1)).Render(m.input.View())
}

func (m Model) renderReducedWarning() string {
	reason := "storage unavailable"
	if m.deps.ReducedReason != nil {
		reason = m.deps.ReducedReason.Error()
	}
	return m.theme.StatusWarning.Width(m.width).Render("[!] " + reason + "; conversations will not be saved")
}

func (m Model) renderStatus() string {
	t := m.theme
	if m.status != "" {
		if m.statusErr {
			return t.StatusBar.Width(m.width).Render(styles.RenderError(m.status))
		}
		return t.StatusBar.Width(m.width).Render(styles.RenderInfo(m.status))
	}

	var hints []string
	for _, b := range m.keys.ShortHelp() {
		if !b.Enabled() {
			continue
		}
		h := b.Help()
		hints = append(hints, t.ShortcutKey.Render(h.Key)+" "+t.ShortcutDesc.Render(h.Desc))
	}
	line := strings.Join(hints, "  ")
	return t.StatusBar.Width(m.width).MaxHeight(1).Render(line)
}
