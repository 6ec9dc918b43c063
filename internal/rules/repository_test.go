// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rules

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/store"
)

// tickClock advances one second per call.
type tickClock struct {
	t time.Time
}

func (c *tickClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestRepo(t *testing.T) (*Repository, *store.Store, *tickClock) {
	t.Helper()
	s := store.New(store.OpenMemory())
	t.Cleanup(func() { _ = s.Close() })
	clock := &tickClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	n := 0
	gen := func() string {
		n++
		return fmt.Sprintf("rule-%d", n)
	}
	return NewRepository(s, WithClock(clock.now), WithIDGenerator(gen)), s, clock
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

// =============================================================================
// GLOBAL RULE
// =============================================================================

func TestGlobal_NilUntilSaved(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	g, err := repo.Global(ctx)
	require.NoError(t, err)
	assert.Nil(t, g)

	saved, err := repo.SaveGlobal(ctx, "Be concise.")
	require.NoError(t, err)

	g, err = repo.Global(ctx)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "Be concise.", g.Content)
	assert.Equal(t, saved.UpdatedAt, g.UpdatedAt)

	again, err := repo.SaveGlobal(ctx, "Be brief.")
	require.NoError(t, err)
	assert.True(t, again.UpdatedAt.After(saved.UpdatedAt))
}

// =============================================================================
// CUSTOM RULES
// =============================================================================

func TestCreate_DefaultsAndValidation(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	rule, err := repo.Create(ctx, NewRule{Title: "  Tone ", Description: "voice", Content: "Friendly."})
	require.NoError(t, err)
	assert.Equal(t, "rule-1", rule.ID)
	assert.Equal(t, "Tone", rule.Title)
	assert.True(t, rule.Enabled)
	assert.Equal(t, rule.CreatedAt, rule.UpdatedAt)

	off, err := repo.Create(ctx, NewRule{Title: "Off", Content: "x", Enabled: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, off.Enabled)

	_, err = repo.Create(ctx, NewRule{Title: "", Content: "x"})
	assert.Error(t, err)
	_, err = repo.Create(ctx, NewRule{Title: "no content"})
	assert.Error(t, err)
}

func TestCreate_SkipsTakenAndReservedIDs(t *testing.T) {
	s := store.New(store.OpenMemory())
	defer s.Close()
	ids := []string{"global", "taken", "fresh"}
	n := 0
	repo := NewRepository(s, WithIDGenerator(func() string {
		id := ids[n]
		n++
		return id
	}))
	ctx := context.Background()
	require.NoError(t, store.PutJSON(ctx, s, store.Rules, "taken", CustomRule{ID: "taken", Title: "t", Content: "c"}))

	rule, err := repo.Create(ctx, NewRule{Title: "T", Content: "C"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", rule.ID)
}

func TestList_OrderedByUpdatedAtDesc(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	a, err := repo.Create(ctx, NewRule{Title: "A", Content: "a"})
	require.NoError(t, err)
	b, err := repo.Create(ctx, NewRule{Title: "B", Content: "b"})
	require.NoError(t, err)
	c, err := repo.Create(ctx, NewRule{Title: "C", Content: "c"})
	require.NoError(t, err)
	_, err = repo.SaveGlobal(ctx, "G")
	require.NoError(t, err)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, ids(list))

	// Touching A moves it to the front.
	_, err = repo.Update(ctx, a.ID, Patch{Description: strPtr("edited")})
	require.NoError(t, err)
	list, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, c.ID, b.ID}, ids(list))
}

func TestList_SkipsMalformed(t *testing.T) {
	repo, s, _ := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.Create(ctx, NewRule{Title: "ok", Content: "fine"})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, store.Rules, "broken", []byte(`{"enabled": "yes"`)))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpdate(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()
	rule, err := repo.Create(ctx, NewRule{Title: "T", Description: "d", Content: "C"})
	require.NoError(t, err)

	updated, err := repo.Update(ctx, rule.ID, Patch{Content: strPtr("C2")})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, rule.ID, updated.ID)
	assert.Equal(t, "T", updated.Title)
	assert.Equal(t, "d", updated.Description)
	assert.Equal(t, "C2", updated.Content)
	assert.Equal(t, rule.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(rule.UpdatedAt))

	// An empty patch still refreshes the timestamp.
	again, err := repo.Update(ctx, rule.ID, Patch{})
	require.NoError(t, err)
	assert.True(t, again.UpdatedAt.After(updated.UpdatedAt))

	_, err = repo.Update(ctx, rule.ID, Patch{Title: strPtr("")})
	assert.Error(t, err)

	_, err = repo.Update(ctx, rule.ID, Patch{Title: strPtr("   ")})
	assert.Error(t, err, "a blank title is rejected after trimming")
	stored, err := repo.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "T", stored.Title)

	trimmed, err := repo.Update(ctx, rule.ID, Patch{Title: strPtr("  New  "), Description: strPtr(" d2 ")})
	require.NoError(t, err)
	assert.Equal(t, "New", trimmed.Title)
	assert.Equal(t, "d2", trimmed.Description)

	missing, err := repo.Update(ctx, "nope", Patch{Content: strPtr("x")})
	require.NoError(t, err)
	assert.Nil(t, missing)

	stored, err = repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, stored, "update must not create a rule")
}

func TestToggle(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()
	rule, err := repo.Create(ctx, NewRule{Title: "T", Content: "C"})
	require.NoError(t, err)

	toggled, err := repo.Toggle(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Enabled)
	assert.Equal(t, "C", toggled.Content)

	toggled, err = repo.Toggle(ctx, rule.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Enabled)

	none, err := repo.Toggle(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestDelete(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()
	rule, err := repo.Create(ctx, NewRule{Title: "T", Content: "C"})
	require.NoError(t, err)
	_, err = repo.SaveGlobal(ctx, "G")
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, rule.ID))
	got, err := repo.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Delete(ctx, GlobalKey))
	g, err := repo.Global(ctx)
	require.NoError(t, err)
	assert.NotNil(t, g, "the global rule is not a custom rule")
}

// =============================================================================
// ACTIVE / MERGE
// =============================================================================

func TestMerge_GlobalThenEnabledInListOrder(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.SaveGlobal(ctx, "G")
	require.NoError(t, err)
	// Created oldest first, so List returns B before A. Touch A last so the
	// listed order is A, B.
	b, err := repo.Create(ctx, NewRule{Title: "b", Content: "B"})
	require.NoError(t, err)
	a, err := repo.Create(ctx, NewRule{Title: "a", Content: "A"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, NewRule{Title: "c", Content: "C", Enabled: boolPtr(false)})
	require.NoError(t, err)
	_, err = repo.Update(ctx, b.ID, Patch{})
	require.NoError(t, err)
	_, err = repo.Update(ctx, a.ID, Patch{})
	require.NoError(t, err)

	active, err := repo.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active.Enabled, 2)
	assert.Equal(t, "A", active.Enabled[0].Content)

	assert.Equal(t, "G\n\nA\n\nB", Merge(active))

	merged, err := repo.Merged(ctx)
	require.NoError(t, err)
	assert.Equal(t, "G\n\nA\n\nB", merged)
}

func TestMerge_Table(t *testing.T) {
	tests := []struct {
		name   string
		active ActiveRules
		want   string
	}{
		{"nothing", ActiveRules{}, ""},
		{"global only", ActiveRules{Global: &GlobalRule{Content: "G"}}, "G"},
		{"empty global", ActiveRules{Global: &GlobalRule{Content: "  "}, Enabled: []CustomRule{{Content: "A", Enabled: true}}}, "A"},
		{"disabled dropped", ActiveRules{Enabled: []CustomRule{{Content: "A", Enabled: true}, {Content: "C"}}}, "A"},
		{"content kept verbatim", ActiveRules{Global: &GlobalRule{Content: "G\n"}, Enabled: []CustomRule{{Content: " A", Enabled: true}}}, "G\n\n\n A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.active))
		})
	}
}

func ids(rules []CustomRule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}
