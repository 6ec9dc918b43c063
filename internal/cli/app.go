// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Shared startup for every command and the TUI.
//
// NewApp loads the config, builds the logger, opens the store (falling back
// to memory when the configured backend cannot be opened) and wires the
// conversation manager, rule repository and model client together.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/conversation"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/rules"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/state"
	"github.com/jeranaias/rigchat/internal/store"
	"github.com/jeranaias/rigchat/internal/ui/styles"
)

// AppOptions controls NewApp. Zero values use the process streams.
type AppOptions struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	// LogOutput sends logs to a writer instead of the log file.
	LogOutput io.Writer
}

// App holds everything a command needs.
type App struct {
	Config     *config.Config
	ConfigPath string
	Log        *logrus.Logger

	Store *store.Store
	// Reduced is set when the configured store could not be opened and
	// an in-memory store is used instead. StoreErr says why.
	Reduced  bool
	StoreErr error

	Client        *ollama.Client
	Conversations *conversation.Manager
	Rules         *rules.Repository
	Models        *state.Models

	In          io.Reader
	Out         io.Writer
	Err         io.Writer
	Interactive bool
	Quiet       bool
	JSON        bool

	logCloser io.Closer
}

// NewApp builds an App from the parsed global flags.
func NewApp(ctx context.Context, args Args, opts AppOptions) (*App, error) {
	app := &App{
		In:    opts.In,
		Out:   opts.Out,
		Err:   opts.Err,
		Quiet: args.Quiet,
		JSON:  args.JSON,
	}
	if app.In == nil {
		app.In = os.Stdin
	}
	if f, ok := app.In.(*os.File); ok {
		app.Interactive = term.IsTerminal(int(f.Fd()))
	}
	if app.Out == nil {
		app.Out = os.Stdout
	}
	if app.Err == nil {
		app.Err = os.Stderr
	}

	// ==========================================================================
	// CONFIG
	// ==========================================================================

	app.ConfigPath = args.Config
	if app.ConfigPath == "" {
		path, err := config.ConfigPath()
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		app.ConfigPath = path
	}

	cfg, err := config.LoadFrom(app.ConfigPath)
	if err != nil {
		return nil, &ConfigError{Path: app.ConfigPath, Err: err}
	}
	if args.URL != "" {
		url, err := ollama.NormalizeBaseURL(args.URL)
		if err != nil {
			return nil, NewValidationErrorWithExample("url", args.URL, err.Error(), "--url http://localhost:11434")
		}
		cfg.Server.URL = url
	}
	if args.Model != "" {
		cfg.Chat.DefaultModel = args.Model
	}
	app.Config = cfg

	// ==========================================================================
	// LOGGING
	// ==========================================================================

	level := cfg.Log.Level
	if args.Verbose {
		level = "debug"
	}
	logCfg := logging.Config{Level: level, Format: cfg.Log.Format, Output: opts.LogOutput}
	if opts.LogOutput == nil {
		path, err := cfg.LogPath()
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		logCfg.File = path
	}
	log, closer, err := logging.New(logCfg)
	if err != nil {
		return nil, &ConfigError{Path: app.ConfigPath, Err: err}
	}
	app.Log = log
	app.logCloser = closer

	// ==========================================================================
	// STORAGE
	// ==========================================================================

	app.Store, app.StoreErr = openStore(ctx, cfg, log)
	if app.StoreErr != nil {
		app.Reduced = true
		log.WithError(app.StoreErr).Warn("storage unavailable, using in-memory store")
	}

	// ==========================================================================
	// SERVICES
	// ==========================================================================

	app.Client = ollama.NewClientWithConfig(ClientConfig(cfg, log))
	app.Conversations = conversation.NewManager(app.Store, conversation.WithLogger(log))
	app.Rules = rules.NewRepository(app.Store, rules.WithLogger(log))
	app.Models = state.NewModels()
	if cfg.Chat.DefaultModel != "" {
		// The list is not loaded yet, so any name is accepted.
		_ = app.Models.Select(cfg.Chat.DefaultModel)
	}

	log.WithFields(logrus.Fields{
		"server":  cfg.Server.URL,
		"backend": cfg.Storage.Backend,
		"reduced": app.Reduced,
	}).Debug("rigchat started")
	return app, nil
}

// ClientConfig maps the server section of cfg onto a client configuration.
// A request timeout of 0 in the config file means no limit.
func ClientConfig(cfg *config.Config, log logrus.FieldLogger) *ollama.ClientConfig {
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = ollama.NoTimeout
	}
	return &ollama.ClientConfig{
		BaseURL:        cfg.Server.URL,
		RequestTimeout: timeout,
		DefaultModel:   cfg.Chat.DefaultModel,
		Logger:         log,
	}
}

// openStore opens the configured backend. On failure it returns a ready
// in-memory store together with the error.
func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*store.Store, error) {
	path, err := cfg.StoragePath()
	if err == nil {
		var opener store.Opener
		switch cfg.Storage.Backend {
		case config.BackendSQLite:
			opener = store.OpenSQLite(path)
		case config.BackendMemory:
			opener = store.OpenMemory()
		default:
			opener = store.OpenBolt(path)
		}
		s := store.New(opener, store.WithLogger(log), store.WithName(cfg.Storage.Backend))
		if err = s.Init(ctx); err == nil {
			return s, nil
		}
	}

	mem := store.New(store.OpenMemory(), store.WithLogger(log), store.WithName(config.BackendMemory))
	if initErr := mem.Init(ctx); initErr != nil {
		err = errors.Join(err, initErr)
	}
	return mem, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
}

// Close releases the store and the log file.
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}

// ResolveModel returns the model to chat with. Without a configured model
// the first model the server reports is selected.
func (a *App) ResolveModel(ctx context.Context) (string, error) {
	if model := a.Models.Selected(); model != "" {
		return model, nil
	}
	models, err := a.Client.ListModels(ctx)
	if err != nil {
		return "", err
	}
	names := modelNames(models)
	a.Models.Set(names)
	if len(names) == 0 {
		return "", session.ErrNoModel
	}
	if err := a.Models.Select(names[0]); err != nil {
		return "", err
	}
	return names[0], nil
}

// NewController builds a session controller over the app's services.
func (a *App) NewController(notifier session.Notifier) *session.Controller {
	return session.NewController(session.Config{
		Client:        a.Client,
		Conversations: a.Conversations,
		Rules:         a.Rules,
		Models:        a.Models,
		Notifier:      notifier,
		Logger:        a.Log,
		AutoTitle:     a.Config.Chat.AutoTitle,
	})
}

// warnReduced tells the user that nothing will be saved.
func (a *App) warnReduced() {
	if a.Reduced && !a.Quiet {
		fmt.Fprintln(a.Err, styles.RenderWarning(fmt.Sprintf("%v; changes will not be saved", a.StoreErr)))
	}
}

// editConfigFile applies fn to the config file (without environment or
// flag overrides), validates the result and saves it.
func (a *App) editConfigFile(fn func(cfg *config.Config) error) (*config.Config, error) {
	cfg, err := config.LoadFile(a.ConfigPath)
	if err != nil {
		return nil, &ConfigError{Path: a.ConfigPath, Err: err}
	}
	if err := fn(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Path: a.ConfigPath, Err: err}
	}
	if err := config.SaveTo(cfg, a.ConfigPath); err != nil {
		return nil, &ConfigError{Path: a.ConfigPath, Err: err}
	}
	return cfg, nil
}

func modelNames(models []ollama.ModelInfo) []string {
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names
}

// requestContext bounds short utility requests such as model listing.
func requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 10*time.Second)
}
