// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the line-mode commands of
// rigchat.
//
// Every command shares one startup path, NewApp, which loads the config,
// opens the store and wires the conversation manager, the rule repository
// and the model client. The TUI uses the same App.
//
// # Key Types
//
//   - Command: Enumeration of all available CLI commands
//   - Args: Global flags plus the command's own arguments
//   - App: Loaded config and wired services for one invocation
//   - ArgParser: Subcommand, flag and positional parsing
//
// # Usage
//
//	cmd, args, err := cli.Parse(os.Args[1:])
//	if err != nil { ... }
//	err = cli.Execute(ctx, cmd, args, cli.Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
//	if err != nil {
//	    cli.DisplayError(os.Stderr, err)
//	    os.Exit(cli.GetExitCode(err))
//	}
//
// # Commands Overview
//
//   - ask: One prompt, one streamed reply, saved as a conversation
//   - chat: Interactive REPL with slash commands
//   - chats: List, show, rename, delete and export conversations
//   - rules: Global and custom rules
//   - models: List models and set the default
//   - config: Show and change configuration
//   - status: Server, storage and rule summary
//
// Commands that print data accept --json.
package cli
