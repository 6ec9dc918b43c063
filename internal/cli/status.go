// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Status command implementation for rigchat.
//
// Command: status
// Aliases: s
//
// Status Sections:
//
//	Server:   URL, reachability, installed models, selected model
//	Storage:  Backend, database path, conversation count
//	Rules:    Global rule and custom rule counts
//	Files:    Config and log file locations
//
// A server that is down is reported, not treated as a failure.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/ui/styles"
)

var sectionStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(styles.TextPrimary).
	MarginTop(1)

// =============================================================================
// STATUS DATA
// =============================================================================

// StatusData is the JSON shape of the status command.
type StatusData struct {
	Server  StatusServerInfo  `json:"server"`
	Storage StatusStorageInfo `json:"storage"`
	Rules   StatusRulesInfo   `json:"rules"`
	Files   StatusFilesInfo   `json:"files"`
}

// StatusServerInfo describes the model server.
type StatusServerInfo struct {
	URL      string   `json:"url"`
	Running  bool     `json:"running"`
	Error    string   `json:"error,omitempty"`
	Models   []string `json:"models"`
	Selected string   `json:"selected"`
	Timeout  string   `json:"request_timeout"`

	infos []ollama.ModelInfo
}

// StatusStorageInfo describes the store.
type StatusStorageInfo struct {
	Backend       string `json:"backend"`
	Path          string `json:"path,omitempty"`
	Reduced       bool   `json:"reduced"`
	Error         string `json:"error,omitempty"`
	Conversations int    `json:"conversations"`
}

// StatusRulesInfo counts rules.
type StatusRulesInfo struct {
	Global  bool `json:"global"`
	Custom  int  `json:"custom"`
	Enabled int  `json:"enabled"`
}

// StatusFilesInfo lists file locations.
type StatusFilesInfo struct {
	Config string `json:"config"`
	Log    string `json:"log"`
}

// =============================================================================
// HANDLE STATUS
// =============================================================================

// HandleStatus handles the "status" command.
func HandleStatus(ctx context.Context, app *App, args Args) error {
	data := collectStatus(ctx, app)
	if app.JSON {
		return NewJSONResponse("status", data).Print(app.Out)
	}

	w := app.Out
	fmt.Fprintln(w)
	fmt.Fprintln(w, TitleStyle.Render("rigchat Status"))
	fmt.Fprintln(w, RenderSeparator(41))

	fmt.Fprintln(w, sectionStyle.Render("Server"))
	fmt.Fprintf(w, "  %s%s\n", RenderLabel("URL:"), data.Server.URL)
	if data.Server.Running {
		fmt.Fprintf(w, "  %s%s\n", RenderLabel("Status:"), SuccessStyle.Render("Running"))
		fmt.Fprintf(w, "  %s%d installed\n", RenderLabel("Models:"), len(data.Server.Models))
		fmt.Fprintf(w, "  %s%s\n", RenderLabel("Selected:"), modelSummary(data.Server.infos, data.Server.Selected))
	} else {
		fmt.Fprintf(w, "  %s%s\n", RenderLabel("Status:"), ErrorStyle.Render("Not running"))
		fmt.Fprintf(w, "  %s%s\n", RenderLabel("Selected:"), orNone(data.Server.Selected))
	}
	fmt.Fprintf(w, "  %s%s\n", RenderLabel("Timeout:"), data.Server.Timeout)

	fmt.Fprintln(w, sectionStyle.Render("Storage"))
	backend := data.Storage.Backend
	if data.Storage.Reduced {
		backend = WarningStyle.Render("memory (reduced mode: " + data.Storage.Error + ")")
	}
	fmt.Fprintf(w, "  %s%s\n", RenderLabel("Backend:"), backend)
	if data.Storage.Path != "" {
		fmt.Fprintf(w, "  %s%s\n", RenderLabel("Path:"), data.Storage.Path)
	}
	fmt.Fprintf(w, "  %s%d\n", RenderLabel("Chats:"), data.Storage.Conversations)

	fmt.Fprintln(w, sectionStyle.Render("Rules"))
	global := DimStyle.Render("not set")
	if data.Rules.Global {
		global = "set"
	}
	fmt.Fprintf(w, "  %s%s\n", RenderLabel("Global:"), global)
	fmt.Fprintf(w, "  %s%d of %d enabled\n", RenderLabel("Custom:"), data.Rules.Enabled, data.Rules.Custom)

	fmt.Fprintln(w, sectionStyle.Render("Files"))
	fmt.Fprintf(w, "  %s%s\n", RenderLabel("Config:"), data.Files.Config)
	fmt.Fprintf(w, "  %s%s\n", RenderLabel("Log:"), data.Files.Log)
	fmt.Fprintln(w)
	return nil
}

// collectStatus gathers everything the status command shows. Failures are
// recorded in the data rather than returned.
func collectStatus(ctx context.Context, app *App) StatusData {
	cfg := app.Config
	data := StatusData{
		Server: StatusServerInfo{
			URL:      app.Client.BaseURL(),
			Models:   []string{},
			Selected: app.Models.Selected(),
			Timeout:  "none",
		},
		Storage: StatusStorageInfo{
			Backend: cfg.Storage.Backend,
			Reduced: app.Reduced,
		},
		Files: StatusFilesInfo{Config: app.ConfigPath},
	}
	if t := cfg.RequestTimeout(); t > 0 {
		data.Server.Timeout = t.String()
	}

	reqCtx, cancel := requestContext(ctx)
	defer cancel()
	if err := app.Client.CheckRunning(reqCtx); err != nil {
		data.Server.Error = err.Error()
	} else {
		data.Server.Running = true
		if models, err := app.Client.ListModels(reqCtx); err == nil {
			data.Server.infos = models
			data.Server.Models = modelNames(models)
		} else {
			data.Server.Error = err.Error()
		}
	}

	if app.Reduced {
		data.Storage.Backend = config.BackendMemory
		data.Storage.Error = app.StoreErr.Error()
	} else if path, err := cfg.StoragePath(); err == nil && cfg.Storage.Backend != config.BackendMemory {
		data.Storage.Path = path
	}
	if infos, err := app.Conversations.List(ctx); err == nil {
		data.Storage.Conversations = len(infos)
	}

	if global, err := app.Rules.Global(ctx); err == nil && global != nil {
		data.Rules.Global = strings.TrimSpace(global.Content) != ""
	}
	if list, err := app.Rules.List(ctx); err == nil {
		data.Rules.Custom = len(list)
		for _, r := range list {
			if r.Enabled {
				data.Rules.Enabled++
			}
		}
	}

	if path, err := cfg.LogPath(); err == nil {
		data.Files.Log = path
	}
	return data
}

func orNone(s string) string {
	if s == "" {
		return DimStyle.Render("(none)")
	}
	return s
}
