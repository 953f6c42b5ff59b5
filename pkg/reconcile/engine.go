// Package reconcile implements the reconciliation engine that keeps a
// fleet of downstream repositories converged with canonical template
// content. Given a trigger naming a category and its changed templates,
// the engine classifies every subscribed (repository, path) pair as
// already in sync, manually overridden, or needing deployment, submits at
// most one batched update per repository, and persists state transitions
// through conditional writes.
//
// Checksum comparison is the only signal: no timestamp or author
// heuristics, because clock skew and force-pushes make them unreliable.
package reconcile

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/teleporter/pkg/bindings"
	"github.com/agentstation/teleporter/pkg/checksum"
	"github.com/agentstation/teleporter/pkg/errors"
	"github.com/agentstation/teleporter/pkg/gateway"
	"github.com/agentstation/teleporter/pkg/logging"
	"github.com/agentstation/teleporter/pkg/state"
)

// TemplateChange is one changed template path with its new canonical
// content.
type TemplateChange struct {
	Path    string
	Content []byte
}

// Trigger is one canonical change notification: a category, the changed
// template paths with their new content, and an opaque upstream reference
// passed through for logging only.
type Trigger struct {
	Category        string
	Changes         []TemplateChange
	SourceReference string
}

// Engine orchestrates reconciliation across the fleet. It depends only on
// the Store and Gateway abstractions and an immutable set of bindings,
// all injected at construction.
type Engine struct {
	store    state.Store
	gateway  gateway.Gateway
	bindings *bindings.Bindings
	opts     *options
}

// New creates an Engine.
func New(store state.Store, gw gateway.Gateway, b *bindings.Bindings, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, &errors.ValidationError{Field: "store", Message: "cannot be nil"}
	}
	if gw == nil {
		return nil, &errors.ValidationError{Field: "gateway", Message: "cannot be nil"}
	}
	if b == nil {
		return nil, &errors.ValidationError{Field: "bindings", Message: "cannot be nil"}
	}

	options, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:    store,
		gateway:  gw,
		bindings: b,
		opts:     options,
	}, nil
}

// pathChange is a trigger change with its digest precomputed.
type pathChange struct {
	Path    string
	Content []byte
	Digest  checksum.Digest
}

// pendingDeploy carries a NeedsDeploy decision from classification to the
// post-submit state writeback.
type pendingDeploy struct {
	change  pathChange
	version *uint64 // record version read at decision time, nil if absent
}

// Reconcile processes one trigger: it resolves the repositories subscribed
// to the trigger's category and reconciles them concurrently under a
// bounded worker pool. The returned Result carries a per-repository,
// per-path outcome map; one repository's failure never discards another's
// convergence. The error return is reserved for trigger-level problems
// (unknown category); per-repository failures live in the Result.
func (e *Engine) Reconcile(ctx context.Context, trigger Trigger) (*Result, error) {
	logger := e.logger(ctx).With().
		Str("category", trigger.Category).
		Str("source_ref", trigger.SourceReference).
		Logger()

	if !e.bindings.HasCategory(trigger.Category) {
		return nil, errors.NewConfigError("bindings",
			"trigger names unknown category "+trigger.Category, errors.ErrCategoryNotFound)
	}

	changes := e.ownedChanges(&logger, trigger)

	repos, err := e.bindings.RepositoriesFor(trigger.Category)
	if err != nil {
		return nil, err
	}

	result := NewResult(trigger.Category, trigger.SourceReference)

	logger.Info().
		Int("repositories", len(repos)).
		Int("paths", len(changes)).
		Msg("Reconciling category")

	// Independent repositories are embarrassingly parallel; paths within
	// one repository must be decided together before its single batched
	// gateway call.
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, e.opts.concurrency)
	)
	for _, repo := range repos {
		wg.Add(1)
		go func(repository string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			repoCtx, cancel := context.WithTimeout(ctx, e.opts.timeout)
			defer cancel()
			repoCtx = logging.WithRepository(repoCtx, repository)

			repoResult := e.reconcileRepository(repoCtx, repository, changes)

			mu.Lock()
			result.Repos[repository] = repoResult
			mu.Unlock()
		}(repo)
	}
	wg.Wait()

	result.Finalize()
	logger.Info().
		Int("deployed", result.Metadata.Stats.Deployed).
		Int("in_sync", result.Metadata.Stats.InSync).
		Int("conflicted", result.Metadata.Stats.Conflicted).
		Int("failed", result.Metadata.Stats.Failed).
		Msg("Reconciliation complete")

	return result, nil
}

// ownedChanges filters trigger changes down to paths the category owns and
// precomputes their digests. Paths outside the category are skipped with a
// warning; they are an upstream configuration mismatch, not a failure.
func (e *Engine) ownedChanges(logger *zerolog.Logger, trigger Trigger) []pathChange {
	changes := make([]pathChange, 0, len(trigger.Changes))
	for _, change := range trigger.Changes {
		if !e.bindings.OwnsPath(trigger.Category, change.Path) {
			logger.Warn().
				Str("path", change.Path).
				Msg("Skipping path not owned by category")
			continue
		}
		changes = append(changes, pathChange{
			Path:    change.Path,
			Content: change.Content,
			Digest:  checksum.Sum(change.Content),
		})
	}
	return changes
}

// reconcileRepository runs the per-path decision algorithm for one
// repository, then submits a single combined update for every path that
// needs deployment.
func (e *Engine) reconcileRepository(ctx context.Context, repository string, changes []pathChange) *RepoResult {
	logger := logging.FromContext(ctx)
	repoResult := &RepoResult{
		Repository: repository,
		Outcomes:   make(map[string]PathResult, len(changes)),
	}

	var toDeploy []pendingDeploy
	for _, change := range changes {
		if err := ctx.Err(); err != nil {
			e.failRemaining(repoResult, changes, err)
			return repoResult
		}

		pathResult, pending := e.decidePath(ctx, repository, change)
		if pending != nil {
			toDeploy = append(toDeploy, *pending)
			continue // outcome is decided by the batched submit below
		}
		repoResult.Outcomes[change.Path] = pathResult
	}

	if len(toDeploy) == 0 {
		return repoResult
	}

	batch := make([]gateway.Change, len(toDeploy))
	for i, pending := range toDeploy {
		batch[i] = gateway.Change{Path: pending.change.Path, Content: pending.change.Content}
	}

	update, err := e.gateway.SubmitUpdate(ctx, repository, batch)
	if err != nil {
		// No state is mutated on gateway failure; the paths stay
		// eligible for the next trigger.
		logger.Error().Err(err).Int("paths", len(batch)).Msg("Batched update failed")
		for _, pending := range toDeploy {
			repoResult.Outcomes[pending.change.Path] = PathResult{Outcome: OutcomeFailed, Err: err}
		}
		repoResult.Err = err
		return repoResult
	}

	repoResult.Reference = update.Reference
	logger.Info().
		Str("reference", update.Reference).
		Int("paths", len(batch)).
		Msg("Submitted batched update")

	for _, pending := range toDeploy {
		if err := e.commitDeploy(ctx, repository, pending); err != nil {
			repoResult.Outcomes[pending.change.Path] = PathResult{Outcome: OutcomeFailed, Err: err}
			continue
		}
		repoResult.Outcomes[pending.change.Path] = PathResult{Outcome: OutcomeDeployed}
	}
	return repoResult
}

// failRemaining marks every path without an outcome as failed, so no path
// is silently dropped when a repository times out mid-run.
func (e *Engine) failRemaining(repoResult *RepoResult, changes []pathChange, cause error) {
	err := &errors.TimeoutError{
		Operation: "reconcile " + repoResult.Repository,
		Duration:  e.opts.timeout.String(),
		Message:   cause.Error(),
	}
	for _, change := range changes {
		if _, ok := repoResult.Outcomes[change.Path]; !ok {
			repoResult.Outcomes[change.Path] = PathResult{Outcome: OutcomeFailed, Err: err}
		}
	}
	repoResult.Err = err
}

// decidePath loads state, observes the target, classifies, and applies
// any non-deploy state transition. A NeedsDeploy classification returns a
// pendingDeploy instead of an outcome; its state writes happen only after
// the repository's batched submit succeeds.
//
// Conditional-write conflicts reload and reclassify from scratch rather
// than blindly retrying: the concurrent update that won may have changed
// the right answer.
func (e *Engine) decidePath(ctx context.Context, repository string, change pathChange) (PathResult, *pendingDeploy) {
	logger := logging.FromContext(ctx)

	var lastConflict error
	for attempt := 0; attempt < e.opts.retries; attempt++ {
		record, err := e.store.Get(ctx, repository, change.Path)
		if err != nil {
			return PathResult{Outcome: OutcomeFailed, Err: errors.WrapStore("get", state.Key(repository, change.Path), err)}, nil
		}

		targetContent, targetExists, err := e.gateway.TargetContent(ctx, repository, change.Path)
		if err != nil {
			return PathResult{Outcome: OutcomeFailed, Err: err}, nil
		}
		var target checksum.Digest
		if targetExists {
			target = checksum.Sum(targetContent)
		}

		switch classify(record, target, targetExists, change.Digest) {
		case decideInSync:
			err := e.repairRecord(ctx, record, repository, change, target)
			if errors.IsVersionConflict(err) {
				lastConflict = err
				continue
			}
			if err != nil {
				return PathResult{Outcome: OutcomeFailed, Err: err}, nil
			}
			return PathResult{Outcome: OutcomeInSync}, nil

		case decideOverride:
			logger.Warn().
				Str("path", change.Path).
				Str("target_checksum", target.String()).
				Str("master_checksum", change.Digest.String()).
				Msg("Manual override detected, leaving target untouched")
			err := e.observeOverride(ctx, record, repository, change.Path, target)
			if errors.IsVersionConflict(err) {
				lastConflict = err
				continue
			}
			if err != nil {
				return PathResult{Outcome: OutcomeFailed, Err: err}, nil
			}
			return PathResult{Outcome: OutcomeConflicted}, nil

		default: // decideDeploy
			pending := &pendingDeploy{change: change}
			if record != nil {
				version := record.Version
				pending.version = &version
			}
			return PathResult{}, pending
		}
	}

	return PathResult{Outcome: OutcomeFailed, Err: lastConflict}, nil
}

// classify implements the decision precedence from the state model:
// AlreadyInSync, then ManualOverride, then NeedsDeploy.
func classify(record *state.Record, target checksum.Digest, targetExists bool, newMaster checksum.Digest) decision {
	if targetExists && target == newMaster {
		return decideInSync
	}
	// The target holds content that matches neither the new master nor
	// anything this engine deployed: a human changed it.
	if targetExists && (record == nil || target != record.DeployedChecksum) {
		return decideOverride
	}
	return decideDeploy
}

// repairRecord converges the stored record on an AlreadyInSync
// classification without deploying. This repairs drift (a record that
// missed a transition) and clears a resolved conflict.
func (e *Engine) repairRecord(ctx context.Context, record *state.Record, repository string, change pathChange, target checksum.Digest) error {
	if record != nil &&
		record.MasterChecksum == change.Digest &&
		record.DeployedChecksum == change.Digest &&
		record.TargetChecksum.IsZero() {
		return nil // already reflects reality
	}

	updated := state.Record{
		Repository:       repository,
		Path:             change.Path,
		MasterChecksum:   change.Digest,
		DeployedChecksum: change.Digest,
		LastUpdated:      e.opts.clock(),
	}
	var expected *uint64
	if record != nil {
		version := record.Version
		expected = &version
	}
	return e.store.Put(ctx, updated, expected)
}

// observeOverride retains the observed target checksum for diagnostics.
// MasterChecksum and DeployedChecksum are deliberately left untouched so
// every future reconciliation keeps detecting the same conflict until the
// target or the master changes to match.
func (e *Engine) observeOverride(ctx context.Context, record *state.Record, repository, path string, target checksum.Digest) error {
	if record != nil && record.TargetChecksum == target {
		return nil // observation already recorded
	}

	updated := state.Record{
		Repository:     repository,
		Path:           path,
		TargetChecksum: target,
		LastUpdated:    e.opts.clock(),
	}
	var expected *uint64
	if record != nil {
		updated.MasterChecksum = record.MasterChecksum
		updated.DeployedChecksum = record.DeployedChecksum
		version := record.Version
		expected = &version
	}
	return e.store.Put(ctx, updated, expected)
}

// commitDeploy persists the state transition for one deployed path using
// the version read at decision time. A version conflict means a
// concurrent run touched the record: reload and recheck instead of
// resubmitting to the gateway, since the update was already applied.
func (e *Engine) commitDeploy(ctx context.Context, repository string, pending pendingDeploy) error {
	expected := pending.version
	var lastConflict error

	for attempt := 0; attempt < e.opts.retries; attempt++ {
		updated := state.Record{
			Repository:       repository,
			Path:             pending.change.Path,
			MasterChecksum:   pending.change.Digest,
			DeployedChecksum: pending.change.Digest,
			LastUpdated:      e.opts.clock(),
		}
		err := e.store.Put(ctx, updated, expected)
		if err == nil {
			return nil
		}
		if !errors.IsVersionConflict(err) {
			return errors.WrapStore("put", state.Key(repository, pending.change.Path), err)
		}
		lastConflict = err

		current, getErr := e.store.Get(ctx, repository, pending.change.Path)
		if getErr != nil {
			return errors.WrapStore("get", state.Key(repository, pending.change.Path), getErr)
		}
		if current == nil {
			expected = nil
			continue
		}
		if current.MasterChecksum == pending.change.Digest && current.DeployedChecksum == pending.change.Digest {
			return nil // a concurrent run already converged this record
		}
		version := current.Version
		expected = &version
	}
	return lastConflict
}

// Retire deletes the record for a (repository, path) pair. Removing a path
// from a category is an external decision; this is the only way a record
// leaves the store.
func (e *Engine) Retire(ctx context.Context, repository, path string) error {
	if repository == "" || path == "" {
		return &errors.ValidationError{Field: "repository/path", Message: "cannot be empty"}
	}
	if err := e.store.Delete(ctx, repository, path); err != nil {
		return errors.WrapStore("delete", state.Key(repository, path), err)
	}
	e.logger(ctx).Info().
		Str("repository", repository).
		Str("path", path).
		Msg("Retired template record")
	return nil
}

// logger returns the context logger, or the engine's configured logger.
func (e *Engine) logger(ctx context.Context) *zerolog.Logger {
	if e.opts.logger != nil {
		return e.opts.logger
	}
	return logging.FromContext(ctx)
}
