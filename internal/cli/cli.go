// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command dispatch for rigchat.
package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdAsk
	CmdChat
	CmdChats
	CmdRules
	CmdModels
	CmdConfig
	CmdStatus
	CmdVersion
	CmdHelp
)

var commandNames = map[Command]string{
	CmdTUI:     "tui",
	CmdAsk:     "ask",
	CmdChat:    "chat",
	CmdChats:   "chats",
	CmdRules:   "rules",
	CmdModels:  "models",
	CmdConfig:  "config",
	CmdStatus:  "status",
	CmdVersion: "version",
	CmdHelp:    "help",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet   bool
	Verbose bool
	JSON    bool   // Output in JSON format
	Model   string // Overrides chat.default_model
	URL     string // Overrides server.url
	Config  string // Alternate config file

	// Raw holds the command's own arguments (global flags removed)
	Raw []string
}

const usageText = `rigchat - chat with local models from the terminal

rigchat talks to an Ollama-compatible server, keeps every conversation on
disk and prepends your rules to each request as a system message.

Usage:
  rigchat                         Start the TUI (default)
  rigchat ask [flags] "prompt"    Ask a single question
  rigchat chat [--chat ID]        Interactive line-mode chat
  rigchat chats <subcommand>      Manage saved conversations
  rigchat rules <subcommand>      Manage rules
  rigchat models [use NAME]       List models or set the default model
  rigchat config <subcommand>     Show or change configuration
  rigchat status, s               Show server, storage and model status
  rigchat version                 Show version information

Ask flags:
  --chat ID             Continue an existing conversation
  --image PATH          Attach an image (repeatable)
  --raw                 Never render markdown

Chats subcommands:
  list                  List conversations (default)
  new [TITLE]           Create a conversation
  show ID               Print a conversation
  rename ID TITLE       Rename a conversation
  delete ID [--yes]     Delete a conversation
  export ID [--format markdown|json] [--out PATH]

Rules subcommands:
  list                  List custom rules (default)
  global [TEXT]         Show or set the global rule (--clear to empty it)
  add --title T --content C [--description D] [--disabled]
  edit ID [--title T] [--content C] [--description D] [--enabled yes|no]
  toggle ID             Enable or disable a rule
  delete ID [--yes]     Delete a rule
  merged                Print the system prompt that will be sent

Config subcommands:
  show                  Print the effective configuration (default)
  path                  Print the config file path
  get KEY               Print one value (e.g. server.url)
  set KEY VALUE         Change one value and save
  set-url URL           Change the server URL and save
  keys                  List settable keys

Global flags:
  -m, --model NAME      Model to use
  --url URL             Server base URL
  --config PATH         Config file (default ~/.rigchat/config.toml)
  --json                JSON output where supported
  -q, --quiet           Less output
  -v, --verbose         Debug logging

Environment:
  RIGCHAT_HOME          Directory for config, database and logs
  RIGCHAT_URL           Server base URL
  RIGCHAT_MODEL         Default model
  RIGCHAT_STORAGE       Storage backend (bolt, sqlite, memory)
  RIGCHAT_LOG_LEVEL     Log level

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "rigchat version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
}

// Parse parses command-line arguments (without the program name) and returns
// the command and args.
func Parse(argv []string) (Command, Args, error) {
	remaining, parsedArgs, err := parseGlobalFlags(argv)
	if err != nil {
		return CmdHelp, parsedArgs, err
	}

	if len(remaining) == 0 {
		return CmdTUI, parsedArgs, nil
	}

	cmd := strings.ToLower(remaining[0])
	parsedArgs.Raw = remaining[1:]

	switch cmd {
	case "tui":
		return CmdTUI, parsedArgs, nil
	case "ask", "a":
		return CmdAsk, parsedArgs, nil
	case "chat":
		return CmdChat, parsedArgs, nil
	case "chats", "conversations":
		return CmdChats, parsedArgs, nil
	case "rules", "rule":
		return CmdRules, parsedArgs, nil
	case "models", "model":
		return CmdModels, parsedArgs, nil
	case "config":
		return CmdConfig, parsedArgs, nil
	case "status", "s":
		return CmdStatus, parsedArgs, nil
	case "version", "--version":
		return CmdVersion, parsedArgs, nil
	case "help", "-h", "--help":
		return CmdHelp, parsedArgs, nil
	default:
		return CmdHelp, parsedArgs, NewValidationErrorWithExample("command", cmd, "unknown command", "rigchat help")
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
// Global flags may appear before or after the command.
func parseGlobalFlags(args []string) ([]string, Args, error) {
	var remaining []string
	var parsedArgs Args

	valueFlags := map[string]*string{
		"-m":       &parsedArgs.Model,
		"--model":  &parsedArgs.Model,
		"--url":    &parsedArgs.URL,
		"--config": &parsedArgs.Config,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if arg == "--" {
			remaining = append(remaining, args[i:]...)
			break
		}

		switch arg {
		case "-q", "--quiet":
			parsedArgs.Quiet = true
			continue
		case "-v", "--verbose":
			parsedArgs.Verbose = true
			continue
		case "--json":
			parsedArgs.JSON = true
			continue
		}

		if dst, ok := valueFlags[arg]; ok {
			if i+1 >= len(args) {
				return nil, parsedArgs, ErrMissingArgument(strings.TrimLeft(arg, "-"), arg+" VALUE")
			}
			i++
			*dst = args[i]
			continue
		}

		if name, value, ok := strings.Cut(arg, "="); ok {
			if dst, known := valueFlags[name]; known {
				*dst = value
				continue
			}
		}

		remaining = append(remaining, arg)
	}

	return remaining, parsedArgs, nil
}

// =============================================================================
// COMMAND DISPATCH
// =============================================================================

// Streams are the standard streams a command reads and writes.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Execute runs a line-mode command. CmdTUI is handled by the caller.
func Execute(ctx context.Context, cmd Command, args Args, streams Streams) error {
	switch cmd {
	case CmdVersion:
		return HandleVersion(args, streams.Out)
	case CmdHelp:
		PrintUsage(streams.Out)
		return nil
	case CmdTUI:
		return fmt.Errorf("the TUI is not a line-mode command")
	}

	app, err := NewApp(ctx, args, AppOptions{In: streams.In, Out: streams.Out, Err: streams.Err})
	if err != nil {
		return err
	}
	defer app.Close()

	switch cmd {
	case CmdAsk:
		return HandleAsk(ctx, app, args)
	case CmdChat:
		return HandleChat(ctx, app, args)
	case CmdChats:
		return HandleChats(ctx, app, args)
	case CmdRules:
		return HandleRules(ctx, app, args)
	case CmdModels:
		return HandleModels(ctx, app, args)
	case CmdConfig:
		return HandleConfig(ctx, app, args)
	case CmdStatus:
		return HandleStatus(ctx, app, args)
	}
	return fmt.Errorf("unhandled command %s", cmd)
}

// VersionData is the JSON shape of the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// HandleVersion handles the "version" command with JSON output support.
func HandleVersion(args Args, w io.Writer) error {
	if args.JSON {
		data := VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}
		return NewJSONResponse("version", data).Print(w)
	}
	PrintVersion(w)
	return nil
}
