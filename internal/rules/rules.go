// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rules stores the instruction texts that rigchat sends as a system
// message ahead of every conversation.
//
// There is one global rule and any number of custom rules. Custom rules can
// be switched on and off without editing them. Merge combines the global rule
// with the enabled custom rules into the single system prompt.
package rules

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// GlobalKey is the rules-collection key of the global rule. It is never a
// custom rule id.
const GlobalKey = "global"

// Separator joins rule texts in the merged prompt.
const Separator = "\n\n"

// Length limits for custom rule fields.
const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 500
)

// GlobalRule applies to every conversation.
type GlobalRule struct {
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CustomRule is a named instruction that can be toggled on and off.
type CustomRule struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewRule holds the fields for Create. Enabled is a pointer so that an
// unset value can default to true.
type NewRule struct {
	Title       string
	Description string
	Content     string
	Enabled     *bool
}

// Validate checks the new rule fields.
func (r NewRule) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, MaxTitleLength)),
		validation.Field(&r.Description, validation.Length(0, MaxDescriptionLength)),
		validation.Field(&r.Content, validation.Required),
	)
}

// Patch lists the fields to change in Update. Nil fields are left alone.
type Patch struct {
	Title       *string
	Description *string
	Content     *string
	Enabled     *bool
}

// Validate checks the fields that are set.
func (p Patch) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Title, validation.NilOrNotEmpty, validation.Length(1, MaxTitleLength)),
		validation.Field(&p.Description, validation.Length(0, MaxDescriptionLength)),
		validation.Field(&p.Content, validation.NilOrNotEmpty),
	)
}

func (p Patch) apply(r *CustomRule) {
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Content != nil {
		r.Content = *p.Content
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
}

// ActiveRules is the rule set that applies to a new request.
type ActiveRules struct {
	Global  *GlobalRule
	Enabled []CustomRule
}

// Merge joins the global content and the content of every enabled custom
// rule, in that order, separated by a blank line. Empty texts are left out.
// The result is empty when no rule has content.
func Merge(active ActiveRules) string {
	var parts []string
	if active.Global != nil && strings.TrimSpace(active.Global.Content) != "" {
		parts = append(parts, active.Global.Content)
	}
	for _, r := range active.Enabled {
		if !r.Enabled || strings.TrimSpace(r.Content) == "" {
			continue
		}
		parts = append(parts, r.Content)
	}
	return strings.Join(parts, Separator)
}
