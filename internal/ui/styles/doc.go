// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the colors and lipgloss styles shared by the rigchat
TUI and the line-mode commands.

# Colors (colors.go)

All colors are lipgloss AdaptiveColor values, so they follow the terminal's
light or dark background:

  - Cyan is the brand color and marks user messages
  - Purple marks assistant messages and the input border
  - Emerald, Amber and Rose mark success, warnings and errors

Status helpers (RenderSuccess, RenderError, RenderWarning, RenderInfo) prefix
their message with an ASCII indicator such as "[OK]" or "[X]".

# Theme (theme.go)

Theme bundles the styles for the chat screen: header, sidebar, messages,
input box and status line. SetSize records the window size and
GetLayoutMode/SidebarWidth derive the responsive layout from it.
*/
package styles
