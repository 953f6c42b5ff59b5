// Package teleporter keeps a fleet of repositories converged on a set of
// canonical template files. A trigger describing changed master content
// goes in; batched per-repository updates, preserved manual overrides,
// and per-path outcomes come out. State lives behind a pluggable store,
// platform access behind a pluggable gateway.
package teleporter

import (
	"context"
	"fmt"

	"github.com/agentstation/teleporter/pkg/bindings"
	"github.com/agentstation/teleporter/pkg/reconcile"
	"github.com/agentstation/teleporter/pkg/state"
)

// Teleporter reconciles template fleets against canonical content.
type Teleporter interface {
	// Sync runs one reconciliation pass for a trigger's category.
	Sync(ctx context.Context, trigger reconcile.Trigger) (*reconcile.Result, error)

	// Status reports fleet convergence for a category.
	Status(ctx context.Context, category string) (*reconcile.CategoryStatus, error)

	// Retire stops tracking a (repository, path) pair.
	Retire(ctx context.Context, repository, path string) error

	// Bindings returns the category bindings in effect.
	Bindings() *bindings.Bindings

	// OnDeployed registers a callback fired per path deployed by Sync.
	OnDeployed(DeployedHook)

	// OnConflict registers a callback fired per path Sync found manually
	// overridden.
	OnConflict(ConflictHook)
}

// teleporter is the internal implementation of the Teleporter interface.
type teleporter struct {
	engine   *reconcile.Engine
	bindings *bindings.Bindings
	hooks    *hooks
}

// New creates a Teleporter instance with the given options. A gateway
// and bindings are required; the store defaults to in-memory.
func New(opts ...Option) (Teleporter, error) {
	c := defaultConfig()
	if err := c.apply(opts...); err != nil {
		return nil, fmt.Errorf("applying options: %w", err)
	}

	if c.store == nil {
		c.store = state.NewMemory()
	}

	engine, err := reconcile.New(c.store, c.gateway, c.bindings, c.engineOpts...)
	if err != nil {
		return nil, err
	}

	return &teleporter{
		engine:   engine,
		bindings: c.bindings,
		hooks:    newHooks(),
	}, nil
}

// Sync runs one reconciliation pass and fires registered hooks for each
// deployed or conflicted path.
func (t *teleporter) Sync(ctx context.Context, trigger reconcile.Trigger) (*reconcile.Result, error) {
	result, err := t.engine.Reconcile(ctx, trigger)
	if err != nil {
		return nil, err
	}
	t.hooks.fire(result)
	return result, nil
}

// Status reports fleet convergence for a category.
func (t *teleporter) Status(ctx context.Context, category string) (*reconcile.CategoryStatus, error) {
	return t.engine.Status(ctx, category)
}

// Retire stops tracking a (repository, path) pair.
func (t *teleporter) Retire(ctx context.Context, repository, path string) error {
	return t.engine.Retire(ctx, repository, path)
}

// Bindings returns the category bindings in effect.
func (t *teleporter) Bindings() *bindings.Bindings {
	return t.bindings
}

// OnDeployed registers a callback fired per deployed path.
func (t *teleporter) OnDeployed(hook DeployedHook) {
	t.hooks.onDeployed(hook)
}

// OnConflict registers a callback fired per conflicted path.
func (t *teleporter) OnConflict(hook ConflictHook) {
	t.hooks.onConflict(hook)
}
