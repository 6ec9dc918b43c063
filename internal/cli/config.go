// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation for rigchat.
//
// Command: config [subcommand]
//
// Subcommands:
//
//	show (default)      Display the effective configuration
//	path                Show the configuration file path
//	get KEY             Print one value
//	set KEY VALUE       Set a value and save
//	set-url URL         Set the server URL and save
//	keys                List settable keys
//	reset               Write the default configuration
//
// Examples:
//
//	rigchat config
//	rigchat config get server.url
//	rigchat config set server.request_timeout_secs 0
//	rigchat config set-url http://gpu-box:11434
//	rigchat config reset --yes
//
// "set" and "set-url" edit the file itself: environment variables and
// command-line overrides are applied when loading but never written back.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/ui/styles"
)

// HandleConfig handles the "config" command.
func HandleConfig(ctx context.Context, app *App, args Args) error {
	p := NewArgParser(args.Raw, "yes", "y")

	switch sub := p.Subcommand(); sub {
	case "", "show":
		return configShow(app)
	case "path":
		return configPath(app)
	case "get":
		return configGet(app, p.Positional(1))
	case "set":
		return configSet(app, p.Positional(1), JoinPositionalArgs(p, 2))
	case "set-url", "url":
		return configSetURL(ctx, app, p.Positional(1))
	case "keys":
		return configKeys(app)
	case "reset":
		return configReset(app, p)
	default:
		return ErrUnknownSubcommand("config", sub)
	}
}

func configShow(app *App) error {
	if app.JSON {
		return NewJSONResponse("config show", app.Config).Print(app.Out)
	}

	fmt.Fprintln(app.Out, TitleStyle.Render("rigchat configuration"))
	section := ""
	for _, key := range config.GetAllKeys() {
		name, field, _ := strings.Cut(key, ".")
		if name != section {
			if section != "" {
				fmt.Fprintln(app.Out)
			}
			fmt.Fprintln(app.Out, InfoStyle.Render("["+name+"]"))
			section = name
		}
		value, err := app.Config.Get(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "  %s %s\n", LabelStyle.Width(24).Render(field), formatConfigValue(value))
	}
	fmt.Fprintln(app.Out)
	fmt.Fprintf(app.Out, "%s\n", DimStyle.Render("File: "+app.ConfigPath))
	return nil
}

// ConfigPathData is the JSON shape of "config path".
type ConfigPathData struct {
	Path string `json:"path"`
	Dir  string `json:"dir"`
}

func configPath(app *App) error {
	dir, err := config.ConfigDir()
	if err != nil {
		return &ConfigError{Err: err}
	}
	if app.JSON {
		return NewJSONResponse("config path", ConfigPathData{Path: app.ConfigPath, Dir: dir}).Print(app.Out)
	}
	fmt.Fprintln(app.Out, app.ConfigPath)
	return nil
}

// ConfigValueData is the JSON shape of "config get" and "config set".
type ConfigValueData struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func configGet(app *App, key string) error {
	if key == "" {
		return ErrMissingArgument("key", "config get KEY")
	}
	value, err := app.Config.Get(key)
	if err != nil {
		return NewValidationErrorWithExample("key", key, err.Error(), "rigchat config keys")
	}
	if app.JSON {
		return NewJSONResponse("config get", ConfigValueData{Key: key, Value: value}).Print(app.Out)
	}
	fmt.Fprintln(app.Out, formatConfigValue(value))
	return nil
}

func configSet(app *App, key, value string) error {
	if key == "" {
		return ErrMissingArgument("key", "config set KEY VALUE")
	}
	if _, err := app.Config.Get(key); err != nil {
		return NewValidationErrorWithExample("key", key, err.Error(), "rigchat config keys")
	}

	cfg, err := app.editConfigFile(func(cfg *config.Config) error {
		if err := cfg.Set(key, value); err != nil {
			return NewValidationErrorWithExample(key, value, err.Error(), "rigchat config set "+key+" VALUE")
		}
		return nil
	})
	if err != nil {
		return err
	}
	saved, _ := cfg.Get(key)

	if app.JSON {
		return NewJSONResponse("config set", ConfigValueData{Key: key, Value: saved}).Print(app.Out)
	}
	if !app.Quiet {
		fmt.Fprintf(app.Out, "%s %s = %s\n", RenderStatus(true), key, formatConfigValue(saved))
	}
	return nil
}

func configSetURL(ctx context.Context, app *App, raw string) error {
	if raw == "" {
		return ErrMissingArgument("url", "config set-url http://localhost:11434")
	}
	url, err := ollama.NormalizeBaseURL(raw)
	if err != nil {
		return NewValidationErrorWithExample("url", raw, err.Error(), "rigchat config set-url http://localhost:11434")
	}
	if _, err := app.editConfigFile(func(cfg *config.Config) error {
		cfg.Server.URL = url
		return nil
	}); err != nil {
		return err
	}

	// A server that is down is not an error here; the URL is still saved.
	reachable := true
	if err := app.Client.SetBaseURL(url); err == nil {
		reqCtx, cancel := requestContext(ctx)
		reachable = app.Client.CheckRunning(reqCtx) == nil
		cancel()
	}

	if app.JSON {
		return NewJSONResponse("config set-url", map[string]any{"url": url, "reachable": reachable}).Print(app.Out)
	}
	if !app.Quiet {
		fmt.Fprintf(app.Out, "%s server.url = %s\n", RenderStatus(true), url)
		if !reachable {
			fmt.Fprintln(app.Out, styles.RenderWarning("no server answered at "+url+" yet"))
		}
	}
	return nil
}

func configKeys(app *App) error {
	keys := config.GetAllKeys()
	if app.JSON {
		return NewJSONResponse("config keys", keys).Print(app.Out)
	}
	for _, key := range keys {
		fmt.Fprintln(app.Out, key)
	}
	return nil
}

func configReset(app *App, p *ArgParser) error {
	ok, err := app.RequireConfirmation("reset "+app.ConfigPath+" to defaults", ConfirmationOptions{
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
	if err := config.SaveTo(config.Default(), app.ConfigPath); err != nil {
		return &ConfigError{Path: app.ConfigPath, Err: err}
	}
	if app.JSON {
		return NewJSONResponse("config reset", ConfigPathData{Path: app.ConfigPath}).Print(app.Out)
	}
	if !app.Quiet {
		fmt.Fprintf(app.Out, "%s configuration reset\n", RenderStatus(true))
	}
	return nil
}

func formatConfigValue(v any) string {
	if s, ok := v.(string); ok && s == "" {
		return DimStyle.Render("(not set)")
	}
	return fmt.Sprint(v)
}
