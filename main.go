// rigchat - A terminal chat client for a local Ollama server.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/rigchat/internal/cli"
	"github.com/jeranaias/rigchat/internal/state"
	"github.com/jeranaias/rigchat/internal/ui"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args, err := cli.Parse(os.Args[1:])
	if err != nil {
		exit(err)
	}

	switch cmd {
	case cli.CmdTUI:
		err = runTUI(args)
	case cli.CmdChat:
		// The REPL scopes Ctrl+C to the reply in flight.
		err = cli.Execute(context.Background(), cmd, args, stdStreams())
	default:
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = cli.Execute(ctx, cmd, args, stdStreams())
		stop()
	}
	if err != nil {
		exit(err)
	}
}

// runTUI starts the full-screen interface. Logs go to the log file so they
// never draw over the screen.
func runTUI(args cli.Args) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	app, err := cli.NewApp(ctx, args, cli.AppOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	sidebar := state.NewSidebar()
	sidebar.SetOpen(app.Config.UI.SidebarOpen)

	return ui.Run(ctx, ui.RunOptions{
		Deps: ui.Deps{
			Conversations: app.Conversations,
			Models:        app.Client,
			Sidebar:       sidebar,
			Log:           app.Log,
			Reduced:       app.Reduced,
			ReducedReason: app.StoreErr,
			MaxFPS:        app.Config.UI.MaxFPS,
			Markdown:      app.Config.Chat.RenderMarkdown,
		},
		Client:        app.Client,
		NewController: app.NewController,
		ConfigPath:    app.ConfigPath,
	})
}

func stdStreams() cli.Streams {
	return cli.Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

func exit(err error) {
	cli.DisplayError(os.Stderr, err)
	os.Exit(cli.GetExitCode(err))
}
