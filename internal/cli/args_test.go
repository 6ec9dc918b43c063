// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/store"
)

// =============================================================================
// ARG PARSER TESTS (args.go)
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		bools    []string
		wantSub  string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name:    "simple subcommand",
			args:    []string{"list"},
			wantSub: "list",
		},
		{
			name:    "subcommand with flag",
			args:    []string{"export", "abc", "--format", "json"},
			wantSub: "export",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, "json", p.Flag("format"))
				assert.Equal(t, "abc", p.Positional(1))
			},
		},
		{
			name:    "flag with equals",
			args:    []string{"export", "--out=notes.md"},
			wantSub: "export",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, "notes.md", p.Flag("out"))
			},
		},
		{
			name:    "trailing flag without value is boolean",
			args:    []string{"delete", "abc", "--yes"},
			wantSub: "delete",
			validate: func(t *testing.T, p *ArgParser) {
				assert.True(t, p.BoolFlag("yes"))
			},
		},
		{
			name:    "declared boolean does not swallow the next argument",
			args:    []string{"add", "--disabled", "Title"},
			bools:   []string{"disabled"},
			wantSub: "add",
			validate: func(t *testing.T, p *ArgParser) {
				assert.True(t, p.BoolFlag("disabled"))
				assert.Equal(t, "Title", p.Positional(1))
			},
		},
		{
			name:    "repeatable flag keeps every value",
			args:    []string{"--image", "a.png", "--image", "b.png", "describe"},
			wantSub: "describe",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, []string{"a.png", "b.png"}, p.Flags("image"))
				assert.Equal(t, "b.png", p.Flag("image"))
			},
		},
		{
			name:    "double dash stops flag parsing",
			args:    []string{"rename", "abc", "--", "--not-a-flag"},
			wantSub: "rename",
			validate: func(t *testing.T, p *ArgParser) {
				assert.False(t, p.HasFlag("not-a-flag"))
				assert.Equal(t, "--not-a-flag", JoinPositionalArgs(p, 2))
			},
		},
		{
			name:    "multiple positional args",
			args:    []string{"rename", "abc", "Weekend", "trip"},
			wantSub: "rename",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, 4, p.PositionalCount())
				assert.Equal(t, "Weekend trip", JoinPositionalArgs(p, 2))
			},
		},
		{
			name:    "no arguments",
			args:    nil,
			wantSub: "",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, "", p.Positional(0))
				assert.Empty(t, p.PositionalFrom(1))
				assert.Equal(t, "markdown", p.FlagOrDefault("format", "markdown"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewArgParser(tt.args, tt.bools...)
			assert.Equal(t, tt.wantSub, parser.Subcommand())
			if tt.validate != nil {
				tt.validate(t, parser)
			}
		})
	}
}

func TestArgParser_BoolFlagWithValue(t *testing.T) {
	p := NewArgParser([]string{"show", "--raw=false", "--yes=on"}, "raw", "yes")
	assert.False(t, p.BoolFlag("raw"))
	assert.True(t, p.BoolFlag("yes"))
	assert.True(t, p.HasFlag("raw"))
}

func TestArgParser_DashAsFlagValue(t *testing.T) {
	p := NewArgParser([]string{"export", "abc", "--out", "-"})
	assert.Equal(t, "-", p.Flag("out"))
	assert.False(t, p.BoolFlag("out"))
	assert.Equal(t, []string{"export", "abc"}, p.PositionalFrom(0))

	p = NewArgParser([]string{"export", "--out", "--yes"})
	assert.Equal(t, "", p.Flag("out"))
	assert.True(t, p.BoolFlag("out"))
	assert.True(t, p.BoolFlag("yes"))
}

func TestParseBoolString(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"true", true, false},
		{"YES", true, false},
		{" on ", true, false},
		{"1", true, false},
		{"no", false, false},
		{"off", false, false},
		{"0", false, false},
		{"maybe", false, true},
		{"", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBoolString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// COMMAND PARSING TESTS (cli.go)
// =============================================================================

func TestParse_Commands(t *testing.T) {
	tests := []struct {
		argv []string
		want Command
	}{
		{nil, CmdTUI},
		{[]string{"tui"}, CmdTUI},
		{[]string{"ask", "hi"}, CmdAsk},
		{[]string{"a", "hi"}, CmdAsk},
		{[]string{"chat"}, CmdChat},
		{[]string{"chats", "list"}, CmdChats},
		{[]string{"rules"}, CmdRules},
		{[]string{"models"}, CmdModels},
		{[]string{"config", "show"}, CmdConfig},
		{[]string{"s"}, CmdStatus},
		{[]string{"--version"}, CmdVersion},
		{[]string{"-h"}, CmdHelp},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.argv), func(t *testing.T) {
			cmd, _, err := Parse(tt.argv)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd)
		})
	}
}

func TestParse_GlobalFlags(t *testing.T) {
	cmd, args, err := Parse([]string{"-m", "llama3.2", "ask", "--url=http://gpu:11434", "--json", "-q", "hello", "--image", "x.png"})
	require.NoError(t, err)

	assert.Equal(t, CmdAsk, cmd)
	assert.Equal(t, "llama3.2", args.Model)
	assert.Equal(t, "http://gpu:11434", args.URL)
	assert.True(t, args.JSON)
	assert.True(t, args.Quiet)
	assert.Equal(t, []string{"hello", "--image", "x.png"}, args.Raw)
}

func TestParse_Errors(t *testing.T) {
	_, _, err := Parse([]string{"frobnicate"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	_, _, err = Parse([]string{"ask", "--model"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model")
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "ask", CmdAsk.String())
	assert.Equal(t, "Command(99)", Command(99).String())
}

// =============================================================================
// ERROR TESTS (errors.go)
// =============================================================================

func TestGetExitCode(t *testing.T) {
	storeMiss := &store.Error{Kind: store.KindNotFound, Collection: store.Chat, Key: "x"}
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitGeneralError},
		{"validation", ErrMissingArgument("id", "chats show ID"), ExitUsageError},
		{"no model", fmt.Errorf("wrapped: %w", session.ErrNoModel), ExitUsageError},
		{"config", &ConfigError{Path: "x", Err: errors.New("bad")}, ExitConfigError},
		{"not found", notFound("conversation", "x", storeMiss), ExitNotFoundError},
		{"model not found", &ollama.ClientError{Type: ollama.ErrTypeModelNotFound}, ExitNotFoundError},
		{"timeout", &ollama.ClientError{Type: ollama.ErrTypeTimeout}, ExitTimeoutError},
		{"canceled", fmt.Errorf("send: %w", ollama.ErrCanceled), ExitInterrupted},
		{"not running", &ollama.ClientError{Type: ollama.ErrTypeNotRunning}, ExitNetworkError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestNotFound_PassesOtherErrorsThrough(t *testing.T) {
	other := errors.New("disk on fire")
	assert.Same(t, other, notFound("conversation", "x", other))
}
