// Package app provides the application context and dependency management
// for the teleporter CLI. It centralizes configuration, logging, and the
// construction of the store, gateway, and reconciliation engine.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/teleporter"
	"github.com/agentstation/teleporter/internal/gateway/github"
	"github.com/agentstation/teleporter/internal/store/fs"
	"github.com/agentstation/teleporter/internal/store/sqlite"
	"github.com/agentstation/teleporter/pkg/errors"
	"github.com/agentstation/teleporter/pkg/gateway"
	"github.com/agentstation/teleporter/pkg/state"
)

// App represents the teleporter CLI application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string

	// Configuration
	config *Config

	// Logger
	logger *zerolog.Logger

	// Lazily initialized singletons
	mu         sync.Mutex
	teleporter teleporter.Teleporter
	gateway    gateway.Gateway
	closers    []func() error
}

// New creates a new App instance with the given version information.
func New(version, commit, date string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
	}

	config, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	app.config = config

	logger := NewLogger(config)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Version returns the version string.
func (a *App) Version() string {
	return a.version
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// Gateway returns the platform gateway, creating it lazily.
func (a *App) Gateway() (gateway.Gateway, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gatewayLocked()
}

func (a *App) gatewayLocked() (gateway.Gateway, error) {
	if a.gateway != nil {
		return a.gateway, nil
	}

	if a.config.MasterRepository == "" {
		return nil, errors.NewConfigError("gateway", "master_repository is not set", nil)
	}

	var opts []github.Option
	if a.config.MasterRef != "" {
		opts = append(opts, github.WithMasterRef(a.config.MasterRef))
	}
	if a.config.TemplateRoot != "" {
		opts = append(opts, github.WithTemplateRoot(a.config.TemplateRoot))
	}

	gw, err := github.New(a.config.MasterRepository, a.config.GitHubToken, opts...)
	if err != nil {
		return nil, err
	}
	a.gateway = gw
	return gw, nil
}

// Teleporter returns the teleporter instance, creating it lazily. This is
// thread-safe and ensures only one instance is created.
func (a *App) Teleporter() (teleporter.Teleporter, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.teleporter != nil {
		return a.teleporter, nil
	}

	gw, err := a.gatewayLocked()
	if err != nil {
		return nil, err
	}

	store, err := a.openStore()
	if err != nil {
		return nil, err
	}

	opts := []teleporter.Option{
		teleporter.WithGateway(gw),
		teleporter.WithStore(store),
		teleporter.WithBindingsFile(a.config.BindingsFile),
		teleporter.WithLogger(a.logger),
	}
	if a.config.Concurrency > 0 {
		opts = append(opts, teleporter.WithConcurrency(a.config.Concurrency))
	}
	if a.config.Timeout > 0 {
		opts = append(opts, teleporter.WithTimeout(a.config.Timeout))
	}
	if a.config.Retries > 0 {
		opts = append(opts, teleporter.WithRetries(a.config.Retries))
	}

	tp, err := teleporter.New(opts...)
	if err != nil {
		return nil, err
	}
	a.teleporter = tp
	return tp, nil
}

// openStore builds the state store named by the configured backend.
func (a *App) openStore() (state.Store, error) {
	switch a.config.StoreBackend {
	case "", "memory":
		return state.NewMemory(), nil
	case "sqlite":
		store, err := sqlite.Open(a.config.StorePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "fs":
		return fs.Open(a.config.StorePath)
	default:
		return nil, errors.NewConfigError("store",
			"unknown backend "+a.config.StoreBackend+" (want memory, sqlite, or fs)", nil)
	}
}

// Shutdown releases resources held by the application.
func (a *App) Shutdown(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for _, close := range a.closers {
		if err := close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithTeleporter sets a custom teleporter instance (useful for testing).
func WithTeleporter(tp teleporter.Teleporter) Option {
	return func(a *App) error {
		a.teleporter = tp
		return nil
	}
}

// WithGateway sets a custom gateway instance (useful for testing).
func WithGateway(gw gateway.Gateway) Option {
	return func(a *App) error {
		a.gateway = gw
		return nil
	}
}
