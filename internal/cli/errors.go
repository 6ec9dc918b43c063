// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Unified error handling for all CLI commands in rigchat.
//
// Handlers always return errors and never print-and-return-nil. The caller
// (main) displays the error once and picks the exit code with GetExitCode.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/store"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitNetworkError indicates the model server could not be reached
	ExitNetworkError = 5
	// ExitNotFoundError indicates a conversation, rule or model was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
	// ExitInterrupted indicates the user canceled with Ctrl+C
	ExitInterrupted = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ValidationError represents a validation failure for user input.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   string // Value that was provided
	Reason  string // Why validation failed
	Example string // Example of valid usage (optional)
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	Resource string // Type of resource (e.g., "conversation", "rule")
	ID       string // Identifier that was not found
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// ConfigError marks errors from loading or saving the config file.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR CONSTRUCTION HELPERS
// =============================================================================

// NewValidationErrorWithExample creates a validation error with an example.
func NewValidationErrorWithExample(field, value, reason, example string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Reason:  reason,
		Example: example,
	}
}

// ErrMissingArgument creates an error for missing required arguments.
func ErrMissingArgument(argName, usage string) error {
	return NewValidationErrorWithExample(argName, "", "required argument missing", "rigchat "+usage)
}

// ErrUnknownSubcommand creates an error for an unsupported subcommand.
func ErrUnknownSubcommand(command, sub string) error {
	return NewValidationErrorWithExample("subcommand", sub, "unknown "+command+" subcommand", "rigchat help")
}

// notFound turns a store not-found error into a NotFoundError and passes any
// other error through.
func notFound(resource, id string, err error) error {
	if store.IsNotFound(err) {
		return &NotFoundError{Resource: resource, ID: id, Err: err}
	}
	return err
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// DisplayError writes err to w in the standard format, with a hint for the
// common failures.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
	if hint := errorHint(err); hint != "" {
		fmt.Fprintf(w, "%s %s\n", InfoStyle.Render("[hint]"), hint)
	}
}

func errorHint(err error) string {
	switch {
	case ollama.IsNotRunning(err):
		return "is the server running? Start it with 'ollama serve' or set server.url"
	case ollama.IsModelNotFound(err):
		return "pull the model first ('ollama pull NAME') or pick one from 'rigchat models'"
	case ollama.IsTimeout(err):
		return "raise server.request_timeout_secs (0 disables the limit)"
	case errors.Is(err, session.ErrNoModel):
		return "pass --model NAME or run 'rigchat models use NAME'"
	}
	return ""
}

// GetExitCode determines the appropriate exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var validationErr *ValidationError
	var notFoundErr *NotFoundError
	var configErr *ConfigError

	switch {
	case errors.As(err, &validationErr):
		return ExitUsageError
	case errors.Is(err, session.ErrNoModel), errors.Is(err, session.ErrEmptyPrompt):
		return ExitUsageError
	case errors.As(err, &configErr):
		return ExitConfigError
	case errors.As(err, &notFoundErr), store.IsNotFound(err), ollama.IsModelNotFound(err):
		return ExitNotFoundError
	case ollama.IsTimeout(err):
		return ExitTimeoutError
	case errors.Is(err, ollama.ErrCanceled):
		return ExitInterrupted
	case ollama.IsNotRunning(err):
		return ExitNetworkError
	}
	return ExitGeneralError
}
