package teleporter

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/teleporter/pkg/bindings"
	"github.com/agentstation/teleporter/pkg/errors"
	"github.com/agentstation/teleporter/pkg/gateway"
	"github.com/agentstation/teleporter/pkg/reconcile"
	"github.com/agentstation/teleporter/pkg/state"
)

// Option is a function that configures a Teleporter instance
type Option func(*config) error

// config collects construction-time settings before the engine is built.
type config struct {
	store      state.Store
	gateway    gateway.Gateway
	bindings   *bindings.Bindings
	engineOpts []reconcile.Option
}

func defaultConfig() *config {
	return &config{}
}

func (c *config) apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	if c.gateway == nil {
		return &errors.ValidationError{Field: "gateway", Message: "a gateway is required"}
	}
	if c.bindings == nil {
		return &errors.ValidationError{Field: "bindings", Message: "bindings are required"}
	}
	return nil
}

// WithStore configures the state persistence backend. Defaults to the
// in-memory store.
func WithStore(store state.Store) Option {
	return func(c *config) error {
		c.store = store
		return nil
	}
}

// WithGateway configures the platform gateway. Required.
func WithGateway(gw gateway.Gateway) Option {
	return func(c *config) error {
		c.gateway = gw
		return nil
	}
}

// WithBindings configures the category bindings. Required unless
// WithBindingsFile is used.
func WithBindings(b *bindings.Bindings) Option {
	return func(c *config) error {
		c.bindings = b
		return nil
	}
}

// WithBindingsFile loads category bindings from a YAML file.
func WithBindingsFile(path string) Option {
	return func(c *config) error {
		b, err := bindings.Load(path)
		if err != nil {
			return err
		}
		c.bindings = b
		return nil
	}
}

// WithLogger configures the logger used for reconciliation.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *config) error {
		c.engineOpts = append(c.engineOpts, reconcile.WithLogger(logger))
		return nil
	}
}

// WithConcurrency configures how many repositories reconcile in parallel.
func WithConcurrency(n int) Option {
	return func(c *config) error {
		c.engineOpts = append(c.engineOpts, reconcile.WithConcurrency(n))
		return nil
	}
}

// WithTimeout configures the per-repository reconciliation timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		c.engineOpts = append(c.engineOpts, reconcile.WithTimeout(timeout))
		return nil
	}
}

// WithRetries configures the conditional-write retry bound.
func WithRetries(n int) Option {
	return func(c *config) error {
		c.engineOpts = append(c.engineOpts, reconcile.WithRetries(n))
		return nil
	}
}
