// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"fmt"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/state"
)

// RunOptions holds what Run needs beyond the model dependencies.
type RunOptions struct {
	Deps

	// Client is retargeted when the config file's server URL changes.
	Client *ollama.Client

	// NewController builds the controller around the notifier Run supplies.
	NewController func(session.Notifier) *session.Controller

	// ConfigPath is watched for changes when set.
	ConfigPath string
}

// programRelay forwards messages to the program once it exists. Messages
// sent before that are dropped.
type programRelay struct {
	p atomic.Pointer[tea.Program]
}

func (r *programRelay) Send(msg tea.Msg) {
	if p := r.p.Load(); p != nil {
		p.Send(msg)
	}
}

// Run shows the chat screen until the user quits or ctx is done.
func Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := logging.OrDiscard(opts.Log)
	relay := &programRelay{}

	notifier := session.NotifierFunc(func(n session.Notification) {
		log.WithError(n.Err).Warn(n.Message)
		relay.Send(NotificationMsg{Notification: n})
	})
	ctl := opts.NewController(notifier)
	opts.Deps.Controller = ctl

	// Chunks arrive on the controller's goroutine; the program serializes
	// them with everything else.
	unsubscribe := ctl.Stream().Subscribe(func(snap state.StreamSnapshot) {
		relay.Send(StreamMsg{Snapshot: snap})
	})
	defer unsubscribe()

	program := tea.NewProgram(
		New(ctx, opts.Deps),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	relay.p.Store(program)

	if opts.ConfigPath != "" && opts.Client != nil {
		watchConfig(ctx, log, opts.ConfigPath, opts.Client, relay)
	}

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

// watchConfig applies server URL changes made to the config file while the
// screen is open.
func watchConfig(ctx context.Context, log logrus.FieldLogger, path string, client *ollama.Client, relay *programRelay) {
	err := config.Watch(ctx, path, func(cfg *config.Config, err error) {
		if err != nil {
			log.WithError(err).Warn("config reload failed")
			relay.Send(ConfigReloadedMsg{Err: err})
			return
		}
		if cfg.Server.URL == client.BaseURL() {
			return
		}
		if err := client.SetBaseURL(cfg.Server.URL); err != nil {
			relay.Send(ConfigReloadedMsg{Err: err})
			return
		}
		log.WithField("url", client.BaseURL()).Info("server url changed")
		relay.Send(ConfigReloadedMsg{URL: client.BaseURL()})
	})
	if err != nil {
		log.WithError(err).Warn("config watch unavailable")
	}
}
