// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models_cmd.go - The "models" command.
//
// Usage:
//
//	rigchat models                  List models installed on the server
//	rigchat models use llama3.2     Make llama3.2 the default model
package cli

import (
	"context"
	"fmt"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/ollama"
)

// HandleModels handles the "models" command.
func HandleModels(ctx context.Context, app *App, args Args) error {
	p := NewArgParser(args.Raw)

	switch sub := p.Subcommand(); sub {
	case "", "list", "ls":
		return modelsList(ctx, app)
	case "use", "select", "default":
		return modelsUse(ctx, app, p.Positional(1))
	default:
		return ErrUnknownSubcommand("models", sub)
	}
}

// ModelEntry is one model in the JSON output of "models list".
type ModelEntry struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Family   string `json:"family,omitempty"`
	Params   string `json:"parameter_size,omitempty"`
	Selected bool   `json:"selected"`
}

// ModelsListData is the JSON shape of "models list".
type ModelsListData struct {
	Server   string       `json:"server"`
	Selected string       `json:"selected"`
	Models   []ModelEntry `json:"models"`
}

func modelsList(ctx context.Context, app *App) error {
	return OutputJSON(app.Out, app.JSON, "models list", func() (interface{}, error) {
		reqCtx, cancel := requestContext(ctx)
		defer cancel()

		models, err := app.Client.ListModels(reqCtx)
		if err != nil {
			return nil, err
		}
		app.Models.Set(modelNames(models))
		selected := app.Models.Selected()

		data := ModelsListData{Server: app.Client.BaseURL(), Selected: selected, Models: []ModelEntry{}}
		for _, m := range models {
			data.Models = append(data.Models, ModelEntry{
				Name:     m.Name,
				Size:     m.Size,
				Family:   m.Details.Family,
				Params:   m.Details.ParameterSize,
				Selected: m.Name == selected,
			})
		}
		if app.JSON {
			return data, nil
		}

		if len(models) == 0 {
			fmt.Fprintln(app.Out, DimStyle.Render("No models installed. Pull one with 'ollama pull NAME'."))
			return nil, nil
		}
		fmt.Fprintln(app.Out, TitleStyle.Render(fmt.Sprintf("Models on %s", data.Server)))
		for i := range models {
			m := &models[i]
			marker := "  "
			if m.Name == selected {
				marker = SuccessStyle.Render("* ")
			}
			fmt.Fprintf(app.Out, "%s%-32s %10s  %s\n", marker, m.Name, m.FormatSize(), DimStyle.Render(m.Details.ParameterSize))
		}
		return nil, nil
	})
}

// ModelUseData is the JSON shape of "models use".
type ModelUseData struct {
	Model      string `json:"model"`
	ConfigPath string `json:"config_path"`
}

func modelsUse(ctx context.Context, app *App, name string) error {
	if name == "" {
		return ErrMissingArgument("name", "models use NAME")
	}
	return OutputJSON(app.Out, app.JSON, "models use", func() (interface{}, error) {
		reqCtx, cancel := requestContext(ctx)
		defer cancel()

		models, err := app.Client.ListModels(reqCtx)
		if err != nil {
			return nil, err
		}
		app.Models.Set(modelNames(models))
		if err := app.Models.Select(name); err != nil {
			return nil, &NotFoundError{Resource: "model", ID: name, Err: err}
		}

		if _, err := app.editConfigFile(func(cfg *config.Config) error {
			return cfg.Set("chat.default_model", name)
		}); err != nil {
			return nil, err
		}
		app.Client.SetDefaultModel(name)

		if !app.JSON && !app.Quiet {
			fmt.Fprintf(app.Out, "%s default model set to %s\n", RenderStatus(true), name)
		}
		return ModelUseData{Model: name, ConfigPath: app.ConfigPath}, nil
	})
}

// modelSummary describes the selected model for status output.
func modelSummary(models []ollama.ModelInfo, selected string) string {
	for i := range models {
		if models[i].Name == selected {
			return fmt.Sprintf("%s (%s)", selected, models[i].FormatSize())
		}
	}
	if selected == "" {
		return "(none)"
	}
	return selected + " (not installed)"
}
