// Package factory wires the configured components into a runnable server.
package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ChamsBouzaiene/finchat/internal/config"
	"github.com/ChamsBouzaiene/finchat/internal/engine"
	"github.com/ChamsBouzaiene/finchat/internal/interactions"
	"github.com/ChamsBouzaiene/finchat/internal/links"
	"github.com/ChamsBouzaiene/finchat/internal/providers"
	"github.com/ChamsBouzaiene/finchat/internal/retrieval"
	"github.com/ChamsBouzaiene/finchat/internal/server"
	"github.com/ChamsBouzaiene/finchat/internal/session"
	"github.com/ChamsBouzaiene/finchat/internal/tools"
)

// App is a fully wired server with the resources it owns.
type App struct {
	Server   *server.Server
	Agent    *engine.Agent
	Sessions *session.Store
	Models   *providers.Factory
	Links    *links.Manager
	Watcher  *links.Watcher

	closers []func() error
}

// Option customizes BuildApp.
type Option func(*options)

type options struct {
	models engine.ModelResolver
	logger *slog.Logger
}

// WithModelResolver replaces the provider factory used to resolve models,
// e.g. with a scripted client in tests.
func WithModelResolver(r engine.ModelResolver) Option {
	return func(o *options) { o.models = r }
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// BuildApp creates every component under cfg.DataDir and connects them.
// On error, resources opened so far are released.
func BuildApp(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger

	app := &App{}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	sessOpts := session.DefaultOptions()
	sessOpts.MaxTokens = cfg.MaxTokens
	sessOpts.Compression = cfg.Compression
	sessOpts.Logger = log
	sessions, err := session.NewStore(sessOpts)
	if err != nil {
		return nil, err
	}
	app.Sessions = sessions

	db, err := interactions.Open(ctx, cfg.InteractionsPath())
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, db.Close)

	index, err := retrieval.Open(cfg.IndexPath(), log)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, index.Close)

	app.Links, err = links.NewManager(cfg.LinksPath(), log)
	if err != nil {
		return nil, err
	}
	app.Watcher, err = links.NewWatcher(app.Links, 0)
	if err != nil {
		log.Warn("preferred links hot reload disabled", "error", err)
	} else {
		app.closers = append(app.closers, app.Watcher.Stop)
	}

	pages := tools.NewPageCache()
	hub := server.NewBrowserHub(pages, log)
	browserOpts := tools.DefaultOptions()
	browserOpts.Logger = log
	browser := tools.NewBrowser(hub, pages, browserOpts)

	app.Models = providers.NewFactory(cfg.Credentials)
	var resolver engine.ModelResolver = app.Models
	if o.models != nil {
		resolver = o.models
	}
	if !app.Models.Available(cfg.DefaultModel) && o.models == nil {
		log.Warn("default model has no credentials", "model", cfg.DefaultModel)
	}

	app.Agent, err = engine.NewAgentBuilder().
		WithModels(resolver).
		WithStore(sessions).
		WithToolRegistry(tools.NewToolRegistry(browser)).
		WithRetriever(index).
		WithDefaultModel(cfg.DefaultModel).
		WithMaxRounds(cfg.MaxRounds).
		WithStreamDelay(cfg.StreamDelay).
		WithLogger(log).
		Build()
	if err != nil {
		return nil, err
	}

	app.Server, err = server.New(server.Deps{
		Agent:        app.Agent,
		Sessions:     sessions,
		Pages:        pages,
		Hub:          hub,
		Models:       app.Models,
		Index:        index,
		Interactions: db,
		Links:        app.Links,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Start begins background work (the links watcher).
func (a *App) Start() {
	if a.Watcher != nil {
		a.Watcher.Start()
	}
}

// Close releases owned resources in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
