// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/store"
)

// Repository reads and writes rules in the rules collection.
type Repository struct {
	store *store.Store
	newID func() string
	now   func() time.Time
	log   logrus.FieldLogger
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator replaces the uuid generator.
func WithIDGenerator(gen func() string) Option {
	return func(r *Repository) { r.newID = gen }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Repository) { r.log = logging.OrDiscard(l) }
}

// NewRepository returns a Repository backed by s.
func NewRepository(s *store.Store, opts ...Option) *Repository {
	r := &Repository{
		store: s,
		newID: uuid.NewString,
		now:   time.Now,
		log:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// =============================================================================
// GLOBAL RULE
// =============================================================================

// Global returns the global rule, or nil if none was saved.
func (r *Repository) Global(ctx context.Context) (*GlobalRule, error) {
	g, err := store.GetJSON[GlobalRule](ctx, r.store, store.Rules, GlobalKey)
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get global rule: %w", err)
	}
	return &g, nil
}

// SaveGlobal stores content as the global rule.
func (r *Repository) SaveGlobal(ctx context.Context, content string) (*GlobalRule, error) {
	g := GlobalRule{Content: content, UpdatedAt: r.now().UTC()}
	if err := store.PutJSON(ctx, r.store, store.Rules, GlobalKey, g); err != nil {
		return nil, fmt.Errorf("save global rule: %w", err)
	}
	return &g, nil
}

// =============================================================================
// CUSTOM RULES
// =============================================================================

// List returns every custom rule, most recently updated first. Records that
// cannot be decoded are logged and skipped.
func (r *Repository) List(ctx context.Context) ([]CustomRule, error) {
	items, skipped, err := store.ListJSON[CustomRule](ctx, r.store, store.Rules)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	for _, key := range skipped {
		if key != GlobalKey {
			r.log.WithField("rule", key).Warn("skipping unreadable rule")
		}
	}

	out := make([]CustomRule, 0, len(items))
	for key, rule := range items {
		if key == GlobalKey {
			continue
		}
		if rule.ID == "" {
			rule.ID = key
		}
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns the custom rule id, or nil if it does not exist.
func (r *Repository) Get(ctx context.Context, id string) (*CustomRule, error) {
	if id == GlobalKey || id == "" {
		return nil, nil
	}
	rule, err := store.GetJSON[CustomRule](ctx, r.store, store.Rules, id)
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule %s: %w", id, err)
	}
	return &rule, nil
}

// Create stores a new custom rule with a fresh id. Rules are enabled unless
// in.Enabled says otherwise.
func (r *Repository) Create(ctx context.Context, in NewRule) (*CustomRule, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}

	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	now := r.now().UTC()
	rule := CustomRule{
		Title:       in.Title,
		Description: in.Description,
		Content:     in.Content,
		Enabled:     enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for attempt := 0; attempt < 8; attempt++ {
		rule.ID = r.newID()
		if rule.ID == "" || rule.ID == GlobalKey {
			continue
		}
		err := store.AddJSON(ctx, r.store, store.Rules, rule.ID, rule)
		if store.KindOf(err) == store.KindExists {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create rule: %w", err)
		}
		r.log.WithField("rule", rule.ID).Info("rule created")
		return &rule, nil
	}
	return nil, fmt.Errorf("create rule: could not generate a unique id")
}

// Update applies patch to rule id and refreshes its UpdatedAt. It returns
// nil, nil when id does not exist.
func (r *Repository) Update(ctx context.Context, id string, patch Patch) (*CustomRule, error) {
	if id == GlobalKey || id == "" {
		return nil, nil
	}
	patch.Title = trimmed(patch.Title)
	patch.Description = trimmed(patch.Description)
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("update rule %s: %w", id, err)
	}

	var updated *CustomRule
	err := store.UpdateJSON(ctx, r.store, store.Rules, id, func(cur CustomRule, exists bool) (CustomRule, error) {
		if !exists {
			return cur, store.ErrSkipWrite
		}
		patch.apply(&cur)
		cur.ID = id
		cur.UpdatedAt = r.now().UTC()
		updated = &cur
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("update rule %s: %w", id, err)
	}
	return updated, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// Toggle flips the Enabled flag of rule id. It returns nil, nil when id does
// not exist.
func (r *Repository) Toggle(ctx context.Context, id string) (*CustomRule, error) {
	rule, err := r.Get(ctx, id)
	if err != nil || rule == nil {
		return nil, err
	}
	enabled := !rule.Enabled
	return r.Update(ctx, id, Patch{Enabled: &enabled})
}

// Delete removes rule id. Deleting an unknown id is not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if id == GlobalKey || id == "" {
		return nil
	}
	if err := r.store.Delete(ctx, store.Rules, id); err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	r.log.WithField("rule", id).Info("rule deleted")
	return nil
}

// =============================================================================
// ACTIVE RULES
// =============================================================================

// Active returns the global rule and the enabled custom rules in List order.
func (r *Repository) Active(ctx context.Context) (ActiveRules, error) {
	global, err := r.Global(ctx)
	if err != nil {
		return ActiveRules{}, err
	}
	all, err := r.List(ctx)
	if err != nil {
		return ActiveRules{}, err
	}
	active := ActiveRules{Global: global}
	for _, rule := range all {
		if rule.Enabled {
			active.Enabled = append(active.Enabled, rule)
		}
	}
	return active, nil
}

// Merged returns Merge(Active(ctx)).
func (r *Repository) Merged(ctx context.Context) (string, error) {
	active, err := r.Active(ctx)
	if err != nil {
		return "", err
	}
	return Merge(active), nil
}
