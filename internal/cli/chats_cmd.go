// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chats_cmd.go - The "chats" command: manage saved conversations.
//
// Usage:
//
//	rigchat chats                         List conversations
//	rigchat chats new "Trip planning"     Create a conversation
//	rigchat chats show ID                 Print a conversation
//	rigchat chats rename ID New title     Rename
//	rigchat chats delete ID --yes         Delete
//	rigchat chats export ID --format json --out trip.json
package cli

import (
	"context"
	"fmt"

	"github.com/jeranaias/rigchat/internal/conversation"
	"github.com/jeranaias/rigchat/internal/export"
)

// HandleChats handles the "chats" command.
func HandleChats(ctx context.Context, app *App, args Args) error {
	p := NewArgParser(args.Raw, "yes", "y", "raw", "no-metadata")

	switch sub := p.Subcommand(); sub {
	case "", "list", "ls":
		return chatsList(ctx, app)
	case "new", "create":
		return chatsNew(ctx, app, JoinPositionalArgs(p, 1))
	case "show", "view":
		return chatsShow(ctx, app, p)
	case "rename", "mv":
		return chatsRename(ctx, app, p.Positional(1), JoinPositionalArgs(p, 2))
	case "delete", "rm":
		return chatsDelete(ctx, app, p)
	case "export":
		return chatsExport(ctx, app, p)
	default:
		return ErrUnknownSubcommand("chats", sub)
	}
}

// ChatsListData is the JSON shape of "chats list".
type ChatsListData struct {
	Conversations []conversation.Info `json:"conversations"`
	Count         int                 `json:"count"`
}

func chatsList(ctx context.Context, app *App) error {
	return OutputJSON(app.Out, app.JSON, "chats list", func() (interface{}, error) {
		infos, err := app.Conversations.List(ctx)
		if err != nil {
			return nil, err
		}
		if infos == nil {
			infos = []conversation.Info{}
		}
		if app.JSON {
			return ChatsListData{Conversations: infos, Count: len(infos)}, nil
		}

		if len(infos) == 0 {
			fmt.Fprintln(app.Out, DimStyle.Render("No conversations yet. Start one with 'rigchat chat'."))
			return nil, nil
		}
		fmt.Fprintln(app.Out, TitleStyle.Render(fmt.Sprintf("Conversations (%d)", len(infos))))
		for _, info := range infos {
			fmt.Fprintf(app.Out, "%s  %s\n", DimStyle.Render(info.ID), info.Title)
		}
		return nil, nil
	})
}

func chatsNew(ctx context.Context, app *App, title string) error {
	app.warnReduced()
	return OutputJSON(app.Out, app.JSON, "chats new", func() (interface{}, error) {
		id, err := app.Conversations.Create(ctx)
		if err != nil {
			return nil, err
		}
		if title != "" {
			if err := app.Conversations.Rename(ctx, id, title); err != nil {
				return nil, err
			}
		}
		info, err := app.Conversations.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !app.JSON {
			if app.Quiet {
				fmt.Fprintln(app.Out, id)
			} else {
				fmt.Fprintf(app.Out, "%s created %s  %s\n", RenderStatus(true), id, info.Title)
			}
		}
		return info, nil
	})
}

// ChatsShowData is the JSON shape of "chats show".
type ChatsShowData struct {
	conversation.Info
	Messages []conversation.Message `json:"messages"`
}

func chatsShow(ctx context.Context, app *App, p *ArgParser) error {
	id := p.Positional(1)
	if id == "" {
		return ErrMissingArgument("id", "chats show ID")
	}
	return OutputJSON(app.Out, app.JSON, "chats show", func() (interface{}, error) {
		info, err := app.Conversations.Get(ctx, id)
		if err != nil {
			return nil, notFound("conversation", id, err)
		}
		history, err := app.Conversations.History(ctx, id)
		if err != nil {
			return nil, err
		}
		if app.JSON {
			if history == nil {
				history = []conversation.Message{}
			}
			return ChatsShowData{Info: info, Messages: history}, nil
		}

		fmt.Fprintln(app.Out, TitleStyle.Render(info.Title))
		if len(history) == 0 {
			fmt.Fprintln(app.Out, DimStyle.Render("No messages."))
			return nil, nil
		}
		var renderer *MarkdownRenderer
		if useMarkdown(app.Config.Chat.RenderMarkdown, p.BoolFlag("raw")) {
			renderer = NewMarkdownRenderer(GetTerminalWidth() - 4)
		}
		printTranscript(app.Out, history, renderer)
		return nil, nil
	})
}

func chatsRename(ctx context.Context, app *App, id, title string) error {
	if id == "" {
		return ErrMissingArgument("id", "chats rename ID TITLE")
	}
	return OutputJSON(app.Out, app.JSON, "chats rename", func() (interface{}, error) {
		// Rename ignores unknown ids, so check first.
		if _, err := app.Conversations.Get(ctx, id); err != nil {
			return nil, notFound("conversation", id, err)
		}
		if err := app.Conversations.Rename(ctx, id, title); err != nil {
			return nil, err
		}
		info, err := app.Conversations.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !app.JSON && !app.Quiet {
			fmt.Fprintf(app.Out, "%s renamed %s to %s\n", RenderStatus(true), id, info.Title)
		}
		return info, nil
	})
}

func chatsDelete(ctx context.Context, app *App, p *ArgParser) error {
	id := p.Positional(1)
	if id == "" {
		return ErrMissingArgument("id", "chats delete ID --yes")
	}
	info, err := app.Conversations.Get(ctx, id)
	if err != nil {
		return notFound("conversation", id, err)
	}

	ok, err := app.RequireConfirmation(fmt.Sprintf("delete %q", info.Title), ConfirmationOptions{
		Yes:      p.BoolFlag("yes") || p.BoolFlag("y"),
		JSONMode: app.JSON,
	})
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(app.Out, DimStyle.Render("Canceled."))
		return nil
	}

	return OutputJSON(app.Out, app.JSON, "chats delete", func() (interface{}, error) {
		if err := app.Conversations.Delete(ctx, id); err != nil {
			return nil, notFound("conversation", id, err)
		}
		if !app.JSON && !app.Quiet {
			fmt.Fprintf(app.Out, "%s deleted %s\n", RenderStatus(true), id)
		}
		return info, nil
	})
}

// ChatsExportData is the JSON shape of "chats export".
type ChatsExportData struct {
	ID     string `json:"id"`
	Format string `json:"format"`
	Path   string `json:"path"`
}

func chatsExport(ctx context.Context, app *App, p *ArgParser) error {
	id := p.Positional(1)
	if id == "" {
		return ErrMissingArgument("id", "chats export ID [--format markdown|json] [--out PATH]")
	}

	opts := export.DefaultOptions()
	opts.IncludeMetadata = !p.BoolFlag("no-metadata")
	opts.Path = p.Flag("out")
	if dir := p.Flag("dir"); dir != "" {
		opts.OutputDir = dir
	}
	format := p.FlagOrDefault("format", export.FormatMarkdown)
	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		return NewValidationErrorWithExample("format", format, err.Error(), "rigchat chats export ID --format json")
	}

	info, err := app.Conversations.Get(ctx, id)
	if err != nil {
		return notFound("conversation", id, err)
	}
	history, err := app.Conversations.History(ctx, id)
	if err != nil {
		return err
	}
	conv := &export.Conversation{Info: info, Messages: history}

	// "--out -" writes to stdout.
	if opts.Path == "-" {
		content, err := exporter.Export(conv)
		if err != nil {
			return err
		}
		_, err = app.Out.Write(content)
		return err
	}

	return OutputJSON(app.Out, app.JSON, "chats export", func() (interface{}, error) {
		path, err := export.ExportToFile(conv, exporter, opts)
		if err != nil {
			return nil, err
		}
		if !app.JSON {
			if app.Quiet {
				fmt.Fprintln(app.Out, path)
			} else {
				fmt.Fprintf(app.Out, "%s exported to %s\n", RenderStatus(true), path)
			}
		}
		return ChatsExportData{ID: id, Format: format, Path: path}, nil
	})
}
