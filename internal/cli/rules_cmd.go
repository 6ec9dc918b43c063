// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// rules_cmd.go - The "rules" command: edit the texts sent as the system
// message.
//
// Usage:
//
//	rigchat rules                                   List custom rules
//	rigchat rules global "Answer in English."       Set the global rule
//	rigchat rules global --clear                    Empty the global rule
//	rigchat rules add --title Terse --content "Keep answers short."
//	rigchat rules edit ID --enabled no
//	rigchat rules toggle ID
//	rigchat rules delete ID --yes
//	rigchat rules merged                            Print the merged prompt
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/rigchat/internal/rules"
)

// HandleRules handles the "rules" command.
func HandleRules(ctx context.Context, app *App, args Args) error {
	p := NewArgParser(args.Raw, "yes", "y", "clear", "disabled")

	switch sub := p.Subcommand(); sub {
	case "", "list", "ls":
		return rulesList(ctx, app)
	case "global":
		return rulesGlobal(ctx, app, p)
	case "add", "new", "create":
		return rulesAdd(ctx, app, p)
	case "edit", "update":
		return rulesEdit(ctx, app, p)
	case "toggle":
		return rulesToggle(ctx, app, p.Positional(1))
	case "delete", "rm":
		return rulesDelete(ctx, app, p)
	case "merged", "prompt":
		return rulesMerged(ctx, app)
	default:
		return ErrUnknownSubcommand("rules", sub)
	}
}

// RulesListData is the JSON shape of "rules list".
type RulesListData struct {
	Global *rules.GlobalRule  `json:"global"`
	Rules  []rules.CustomRule `json:"rules"`
}

func rulesList(ctx context.Context, app *App) error {
	return OutputJSON(app.Out, app.JSON, "rules list", func() (interface{}, error) {
		global, err := app.Rules.Global(ctx)
		if err != nil {
			return nil, err
		}
		list, err := app.Rules.List(ctx)
		if err != nil {
			return nil, err
		}
		if app.JSON {
			return RulesListData{Global: global, Rules: list}, nil
		}

		fmt.Fprintln(app.Out, TitleStyle.Render("Rules"))
		globalText := DimStyle.Render("(none)")
		if global != nil && strings.TrimSpace(global.Content) != "" {
			globalText = firstLine(global.Content)
		}
		fmt.Fprintf(app.Out, "%s %s\n\n", RenderLabel("Global:"), globalText)

		if len(list) == 0 {
			fmt.Fprintln(app.Out, DimStyle.Render("No custom rules. Add one with 'rigchat rules add'."))
			return nil, nil
		}
		for _, r := range list {
			fmt.Fprintf(app.Out, "%s %s  %s\n", ruleMarker(r.Enabled), DimStyle.Render(r.ID), r.Title)
			if r.Description != "" {
				fmt.Fprintf(app.Out, "    %s\n", DimStyle.Render(r.Description))
			}
		}
		return nil, nil
	})
}

func rulesGlobal(ctx context.Context, app *App, p *ArgParser) error {
	content := JoinPositionalArgs(p, 1)
	if path := p.Flag("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		content = string(data)
	}
	clearGlobal := p.BoolFlag("clear")

	if content == "" && !clearGlobal {
		return OutputJSON(app.Out, app.JSON, "rules global", func() (interface{}, error) {
			global, err := app.Rules.Global(ctx)
			if err != nil {
				return nil, err
			}
			if app.JSON {
				return global, nil
			}
			if global == nil || strings.TrimSpace(global.Content) == "" {
				fmt.Fprintln(app.Out, DimStyle.Render("No global rule set."))
				return nil, nil
			}
			fmt.Fprintln(app.Out, global.Content)
			return nil, nil
		})
	}

	app.warnReduced()
	return OutputJSON(app.Out, app.JSON, "rules global", func() (interface{}, error) {
		global, err := app.Rules.SaveGlobal(ctx, content)
		if err != nil {
			return nil, err
		}
		if !app.JSON && !app.Quiet {
			msg := "global rule saved"
			if content == "" {
				msg = "global rule cleared"
			}
			fmt.Fprintf(app.Out, "%s %s\n", RenderStatus(true), msg)
		}
		return global, nil
	})
}

func rulesAdd(ctx context.Context, app *App, p *ArgParser) error {
	in := rules.NewRule{
		Title:       p.Flag("title"),
		Description: p.Flag("description"),
		Content:     p.Flag("content"),
	}
	if in.Content == "" {
		in.Content = JoinPositionalArgs(p, 1)
	}
	if p.BoolFlag("disabled") {
		disabled := false
		in.Enabled = &disabled
	}
	if err := in.Validate(); err != nil {
		return NewValidationErrorWithExample("rule", "", err.Error(),
			`rigchat rules add --title Terse --content "Keep answers short."`)
	}

	app.warnReduced()
	return OutputJSON(app.Out, app.JSON, "rules add", func() (interface{}, error) {
		rule, err := app.Rules.Create(ctx, in)
		if err != nil {
			return nil, err
		}
		if !app.JSON {
			if app.Quiet {
				fmt.Fprintln(app.Out, rule.ID)
			} else {
				fmt.Fprintf(app.Out, "%s created rule %s  %s\n", RenderStatus(true), rule.ID, rule.Title)
			}
		}
		return rule, nil
	})
}

func rulesEdit(ctx context.Context, app *App, p *ArgParser) error {
	id := p.Positional(1)
	if id == "" {
		return ErrMissingArgument("id", "rules edit ID [--title T] [--content C] [--description D] [--enabled yes|no]")
	}

	var patch rules.Patch
	if p.HasFlag("title") {
		v := p.Flag("title")
		patch.Title = &v
	}
	if p.HasFlag("description") {
		v := p.Flag("description")
		patch.Description = &v
	}
	if p.HasFlag("content") {
		v := p.Flag("content")
		patch.Content = &v
	}
	if p.HasFlag("enabled") {
		v, err := ParseBoolString(p.Flag("enabled"))
		if err != nil {
			return NewValidationErrorWithExample("enabled", p.Flag("enabled"), err.Error(), "rigchat rules edit ID --enabled no")
		}
		patch.Enabled = &v
	}
	if patch == (rules.Patch{}) {
		return NewValidationErrorWithExample("edit", "", "nothing to change", "rigchat rules edit ID --title \"New title\"")
	}
	if err := patch.Validate(); err != nil {
		return NewValidationErrorWithExample("rule", "", err.Error(), "rigchat rules edit ID --title \"New title\"")
	}

	return OutputJSON(app.Out, app.JSON, "rules edit", func() (interface{}, error) {
		rule, err := app.Rules.Update(ctx, id, patch)
		if err != nil {
			return nil, err
		}
		if rule == nil {
			return nil, &NotFoundError{Resource: "rule", ID: id}
		}
		if !app.JSON && !app.Quiet {
			fmt.Fprintf(app.Out, "%s updated rule %s\n", RenderStatus(true), rule.ID)
		}
		return rule, nil
	})
}

func rulesToggle(ctx context.Context, app *App, id string) error {
	if id == "" {
		return ErrMissingArgument("id", "rules toggle ID")
	}
	return OutputJSON(app.Out, app.JSON, "rules toggle", func() (interface{}, error) {
		rule, err := app.Rules.Toggle(ctx, id)
		if err != nil {
			return nil, err
		}
		if rule == nil {
			return nil, &NotFoundError{Resource: "rule", ID: id}
		}
		if !app.JSON && !app.Quiet {
			status := "disabled"
			if rule.Enabled {
				status = "enabled"
			}
			fmt.Fprintf(app.Out, "%s %s %s\n", ruleMarker(rule.Enabled), rule.Title, DimStyle.Render(status))
		}
		return rule, nil
	})
}

func rulesDelete(ctx context.Context, app *App, p *ArgParser) error {
	id := p.Positional(1)
	if id == "" {
		return ErrMissingArgument("id", "rules delete ID --yes")
	}
	rule, err := app.Rules.Get(ctx, id)
	if err != nil {
		return err
	}
	if rule == nil {
		return &NotFoundError{Resource: "rule", ID: id}
	}

	ok, err := app.RequireConfirmation(fmt.Sprintf("delete rule %q", rule.Title), ConfirmationOptions{
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

	return OutputJSON(app.Out, app.JSON, "rules delete", func() (interface{}, error) {
		if err := app.Rules.Delete(ctx, id); err != nil {
			return nil, err
		}
		if !app.JSON && !app.Quiet {
			fmt.Fprintf(app.Out, "%s deleted rule %s\n", RenderStatus(true), id)
		}
		return rule, nil
	})
}

// RulesMergedData is the JSON shape of "rules merged".
type RulesMergedData struct {
	Prompt string `json:"prompt"`
	Empty  bool   `json:"empty"`
}

func rulesMerged(ctx context.Context, app *App) error {
	return OutputJSON(app.Out, app.JSON, "rules merged", func() (interface{}, error) {
		merged, err := app.Rules.Merged(ctx)
		if err != nil {
			return nil, err
		}
		if app.JSON {
			return RulesMergedData{Prompt: merged, Empty: merged == ""}, nil
		}
		if merged == "" {
			fmt.Fprintln(app.Out, DimStyle.Render("No active rules; no system message is sent."))
			return nil, nil
		}
		fmt.Fprintln(app.Out, merged)
		return nil, nil
	})
}

func ruleMarker(enabled bool) string {
	if enabled {
		return SuccessStyle.Render("[on] ")
	}
	return DimStyle.Render("[off]")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + DimStyle.Render(" ...")
	}
	return s
}
