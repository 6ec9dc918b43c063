// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// confirm.go - Confirmation for destructive commands.
//
// Flow:
//  1. If --yes was given, proceed without prompting
//  2. If --json was given, require --yes (no interactive prompts in JSON mode)
//  3. If stdin is not a terminal, require --yes
//  4. Otherwise ask and accept y/yes
package cli

import (
	"bufio"
	"fmt"
	"strings"
)

// ConfirmationOptions describes how a destructive command was invoked.
type ConfirmationOptions struct {
	// Yes indicates --yes was passed (skip interactive prompt)
	Yes bool
	// JSONMode indicates --json was passed
	JSONMode bool
}

// RequireConfirmation checks that the user confirmed action. It returns
// false with a nil error when the user declined.
func (a *App) RequireConfirmation(action string, opts ConfirmationOptions) (bool, error) {
	if opts.Yes {
		return true, nil
	}
	if opts.JSONMode {
		return false, fmt.Errorf("confirmation required: use --yes for destructive actions in JSON mode")
	}
	if !a.Interactive {
		return false, fmt.Errorf("confirmation required but stdin is not a terminal; use --yes")
	}

	fmt.Fprintf(a.Out, "Are you sure you want to %s? [y/N]: ", action)

	input, err := bufio.NewReader(a.In).ReadString('\n')
	if err != nil && input == "" {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	response := strings.ToLower(strings.TrimSpace(input))
	return response == "y" || response == "yes", nil
}
