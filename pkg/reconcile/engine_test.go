package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/teleporter/pkg/bindings"
	"github.com/agentstation/teleporter/pkg/checksum"
	"github.com/agentstation/teleporter/pkg/errors"
	"github.com/agentstation/teleporter/pkg/reconcile/reconciletest"
	"github.com/agentstation/teleporter/pkg/state"
)

func testBindings(t *testing.T) *bindings.Bindings {
	t.Helper()
	b, err := bindings.New(
		map[string]bindings.Category{
			"c1": {Paths: []string{"a.yml", "b.yml"}},
			"c2": {Paths: []string{"release.yml"}},
		},
		map[string]string{
			"r1": "c1",
			"r2": "c1",
			"r3": "c2",
		},
	)
	require.NoError(t, err)
	return b
}

func newTestEngine(t *testing.T, store state.Store, gw *reconciletest.Gateway, opts ...Option) *Engine {
	t.Helper()
	engine, err := New(store, gw, testBindings(t), opts...)
	require.NoError(t, err)
	return engine
}

func trigger(paths ...string) Trigger {
	tr := Trigger{Category: "c1", SourceReference: "push-abc123"}
	for i := 0; i < len(paths); i += 2 {
		tr.Changes = append(tr.Changes, TemplateChange{Path: paths[i], Content: []byte(paths[i+1])})
	}
	return tr
}

func TestFirstDeployToAbsentTarget(t *testing.T) {
	store := state.NewMemory()
	gw := reconciletest.NewGateway()
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	result, err := engine.Reconcile(ctx, trigger("a.yml", "X"))
	require.NoError(t, err)

	h1 := checksum.Sum([]byte("X"))

	r1 := result.Repos["r1"]
	require.NotNil(t, r1)
	assert.Equal(t, OutcomeDeployed, r1.Outcomes["a.yml"].Outcome)
	assert.NotEmpty(t, r1.Reference)

	// One combined update per repository, containing exactly the changed path.
	submissions := gw.Submissions()
	require.Len(t, submissions, 2) // r1 and r2 both subscribe to c1
	for _, submission := range submissions {
		require.Len(t, submission.Changes, 1)
		assert.Equal(t, "a.yml", submission.Changes[0].Path)
		assert.Equal(t, []byte("X"), submission.Changes[0].Content)
	}

	record, err := store.Get(ctx, "r1", "a.yml")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, h1, record.MasterChecksum)
	assert.Equal(t, h1, record.DeployedChecksum)
	assert.True(t, record.TargetChecksum.IsZero())
	assert.Equal(t, uint64(1), record.Version)
	assert.False(t, record.LastUpdated.IsZero())
}

func TestAlreadyInSyncOnFirstSight(t *testing.T) {
	store := state.NewMemory()
	gw := reconciletest.NewGateway()
	gw.SetTarget("r1", "a.yml", []byte("X"))
	gw.SetTarget("r2", "a.yml", []byte("X"))
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	result, err := engine.Reconcile(ctx, trigger("a.yml", "X"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeInSync, result.Repos["r1"].Outcomes["a.yml"].Outcome)
	assert.Zero(t, gw.SubmitCount())

	// The record is still created to reflect reality.
	h1 := checksum.Sum([]byte("X"))
	record, err := store.Get(ctx, "r1", "a.yml")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, h1, record.MasterChecksum)
	assert.Equal(t, h1, record.DeployedChecksum)
}

func TestManualOverridePreserved(t *testing.T) {
	store := state.NewMemory()
	gw := reconciletest.NewGateway()
	ctx := context.Background()

	h1 := checksum.Sum([]byte("X"))
	require.NoError(t, store.Put(ctx, state.Record{
		Repository:       "r1",
		Path:             "a.yml",
		MasterChecksum:   h1,
		DeployedChecksum: h1,
	}, nil))

	// Human edited the target to Z; master moved on to Y.
	gw.SetTarget("r1", "a.yml", []byte("Z"))
	gw.SetTarget("r2", "a.yml", []byte("Y")) // keep r2 quiet for this test
	engine := newTestEngine(t, store, gw)

	result, err := engine.Reconcile(ctx, trigger("a.yml", "Y"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeConflicted, result.Repos["r1"].Outcomes["a.yml"].Outcome)
	assert.Zero(t, gw.SubmitCount())

	record, err := store.Get(ctx, "r1", "a.yml")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, h1, record.MasterChecksum, "master checksum must stay untouched on override")
	assert.Equal(t, h1, record.DeployedChecksum, "deployed checksum must stay untouched on override")
	assert.Equal(t, checksum.Sum([]byte("Z")), record.TargetChecksum)
	assert.Equal(t, state.PhaseConflicted, record.Phase())
}

func TestOverrideOnFirstSight(t *testing.T) {
	store := state.NewMemory()
	gw := reconciletest.NewGateway()
	// No record, but the target already has divergent content, even empty
	// content counts: absent and empty are distinct states.
	gw.SetTarget("r1", "a.yml", []byte{})
	gw.SetTarget("r2", "a.yml", []byte("X"))
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	result, err := engine.Reconcile(ctx, trigger("a.yml", "X"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeConflicted, result.Repos["r1"].Outcomes["a.yml"].Outcome)
	assert.Equal(t, OutcomeInSync, result.Repos["r2"].Outcomes["a.yml"].Outcome)
	assert.Zero(t, gw.SubmitCount())

	record, err := store.Get(ctx, "r1", "a.yml")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.MasterChecksum.IsZero())
	assert.True(t, record.DeployedChecksum.IsZero())
	assert.Equal(t, checksum.Sum([]byte{}), record.TargetChecksum)
}

func TestIdempotence(t *testing.T) {
	store := state.NewMemory()
	gw := reconciletest.NewGateway()
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	first, err := engine.Reconcile(ctx, trigger("a.yml", "X"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeployed, first.Repos["r1"].Outcomes["a.yml"].Outcome)
	submitted := gw.SubmitCount()

	second, err := engine.Reconcile(ctx, trigger("a.yml", "X"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInSync, second.Repos["r1"].Outcomes["a.yml"].Outcome)
	assert.Equal(t, OutcomeInSync, second.Repos["r2"].Outcomes["a.yml"].Outcome)
	assert.Equal(t, submitted, gw.SubmitCount(), "second run must produce zero gateway calls")
}

func TestConvergenceAfterMasterChange(t *testing.T) {
	store := state.NewMemory()
	gw := reconciletest.NewGateway()
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	_, err := engine.Reconcile(ctx, trigger("a.yml", "X"))
	require.NoError(t, err)

	// Master changes; targets hold the previous deployment, clean drift.
	result, err := engine.Reconcile(ctx, trigger("a.yml", "Y"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeployed, result.Repos["r1"].Outcomes["a.yml"].Outcome)

	record, err := store.Get(ctx, "r1", "a.yml")
	require.NoError(t, err)
	h2 := checksum.Sum([]byte("Y"))
	assert.Equal(t, h2, record.MasterChecksum)
	assert.Equal(t, h2, record.DeployedChecksum)

	// And it settles.
	settled, err := engine.Reconcile(ctx, trigger("a.yml", "Y"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInSync, settled.Repos["r1"].Outcomes["a.yml"].Outcome)
}

func TestNoClobberInvariant(t *testing.T) {
	store := state.NewMemory()
	gw := reconciletest.NewGateway()
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	_, err := engine.Reconcile(ctx, trigger("a.yml", "X"))
	require.NoError(t, err)
	baseline := gw.SubmitCount()

	// Human edits both targets after the deployment.
	gw.SetTarget("r1", "a.yml", []byte("patched by hand"))
	gw.SetTarget("r2", "a.yml", []byte("patched by hand"))

	// No matter how many times the master pushes, the override survives.
	for _, content := range []string{"Y", "Y", "W"} {
		result, err := engine.Reconcile(ctx, trigger("a.yml", content))
		require.NoError(t, err)
		assert.Equal(t, OutcomeConflicted, result.Repos["r1"].Outcomes["a.yml"].Outcome)
		assert.Equal(t, baseline, gw.SubmitCount())
	}

	target, ok := gw.Target("r1", "a.yml")
	require.True(t, ok)
	assert.Equal(t, []byte("patched by hand"), target)
}

func TestConflictSelfResolution(t *testing.T) {
	store := state.NewMemory()
	gw := reconciletest.NewGateway()
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	_, err := engine.Reconcile(ctx, trigger("a.yml", "X"))
	require.NoError(t, err)

	gw.SetTarget("r1", "a.yml", []byte("Z"))
	gw.SetTarget("r2", "a.yml", []byte("Y"))

	conflicted, err := engine.Reconcile(ctx, trigger("a.yml", "Y"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflicted, conflicted.Repos["r1"].Outcomes["a.yml"].Outcome)

	// The human reverts the target to exactly the current master content.
	gw.SetTarget("r1", "a.yml", []byte("Y"))

	resolved, err := engine.Reconcile(ctx, trigger("a.yml", "Y"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInSync, resolved.Repos["r1"].Outcomes["a.yml"].Outcome)

	record, err := store.Get(ctx, "r1", "a.yml")
	require.NoError(t, err)
	h2 := checksum.Sum([]byte("Y"))
	assert.Equal(t, h2, record.MasterChecksum)
	assert.Equal(t, h2, record.DeployedChecksum)
	assert.True(t, record.TargetChecksum.IsZero(), "conflict observation must be cleared")
	assert.Equal(t, state.PhaseInSync, record.Phase())
}

func TestBatchedUpdateExcludesNonDeployPaths(t *testing.T) {
	store := state.NewMemory()
	gw := reconciletest.NewGateway()
	// a.yml already matches, b.yml is absent downstream.
	gw.SetTarget("r1", "a.yml", []byte("X"))
	gw.SetTarget("r2", "a.yml", []byte("X"))
	gw.SetTarget("r2", "b.yml", []byte("Y"))
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	result, err := engine.Reconcile(ctx, trigger("a.yml", "X", "b.yml", "Y"))
	require.NoError(t, err)

	r1 := result.Repos["r1"]
	assert.Equal(t, OutcomeInSync, r1.Outcomes["a.yml"].Outcome)
	assert.Equal(t, OutcomeDeployed, r1.Outcomes["b.yml"].Outcome)

	// r2 was fully in sync, so only r1 got an update, and that update
	// carries only the NeedsDeploy path.
	submissions := gw.Submissions()
	require.Len(t, submissions, 1)
	assert.Equal(t, "r1", submissions[0].Repository)
	require.Len(t, submissions[0].Changes, 1)
	assert.Equal(t, "b.yml", submissions[0].Changes[0].Path)
}

func TestGatewayFailureDoesNotMutateStateOrBlockOthers(t *testing.T) {
	store := state.NewMemory()
	gw := reconciletest.NewGateway()
	gw.SubmitErrs = map[string]error{
		"r1": errors.NewGatewayError("r1", 500, "backend exploded"),
	}
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	result, err := engine.Reconcile(ctx, trigger("a.yml", "X"))
	require.NoError(t, err)

	r1 := result.Repos["r1"]
	require.True(t, r1.Failed())
	assert.Equal(t, OutcomeFailed, r1.Outcomes["a.yml"].Outcome)
	assert.True(t, errors.IsTransient(r1.Outcomes["a.yml"].Err))

	// No state was written for the failed repository.
	record, err := store.Get(ctx, "r1", "a.yml")
	require.NoError(t, err)
	assert.Nil(t, record)

	// The other repository converged regardless.
	assert.Equal(t, OutcomeDeployed, result.Repos["r2"].Outcomes["a.yml"].Outcome)
	assert.False(t, result.IsSuccess())
}

func TestConcurrentReconcileSingleWinner(t *testing.T) {
	store := state.NewMemory()
	gw := reconciletest.NewGateway()
	ctx := context.Background()

	h2 := checksum.Sum([]byte("Y"))

	// Simulate a duplicate trigger racing this run: while the engine is
	// inside the gateway call, a concurrent reconciliation commits the
	// same transition first.
	gw.OnSubmit = func(repository string) {
		current, err := store.Get(ctx, repository, "a.yml")
		require.NoError(t, err)
		record := state.Record{
			Repository:       repository,
			Path:             "a.yml",
			MasterChecksum:   h2,
			DeployedChecksum: h2,
		}
		if current == nil {
			require.NoError(t, store.Put(ctx, record, nil))
			return
		}
		version := current.Version
		require.NoError(t, store.Put(ctx, record, &version))
	}

	engine := newTestEngine(t, store, gw)
	result, err := engine.Reconcile(ctx, trigger("a.yml", "Y"))
	require.NoError(t, err)

	// The losing writer observed the version conflict, reloaded, found
	// the record already converged, and neither wrote divergent state nor
	// resubmitted the update.
	assert.Equal(t, OutcomeDeployed, result.Repos["r1"].Outcomes["a.yml"].Outcome)
	assert.Equal(t, 2, gw.SubmitCount()) // one per repository, none duplicated

	record, err := store.Get(ctx, "r1", "a.yml")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), record.Version, "only the concurrent winner's put landed")
	assert.Equal(t, h2, record.MasterChecksum)
}

func TestUnknownCategoryIsFatal(t *testing.T) {
	engine := newTestEngine(t, state.NewMemory(), reconciletest.NewGateway())

	_, err := engine.Reconcile(context.Background(), Trigger{Category: "nope"})
	require.Error(t, err)
	var cfgErr *errors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestForeignPathSkipped(t *testing.T) {
	gw := reconciletest.NewGateway()
	engine := newTestEngine(t, state.NewMemory(), gw)

	tr := trigger("a.yml", "X")
	tr.Changes = append(tr.Changes, TemplateChange{Path: "release.yml", Content: []byte("nope")})

	result, err := engine.Reconcile(context.Background(), tr)
	require.NoError(t, err)

	r1 := result.Repos["r1"]
	assert.Contains(t, r1.Outcomes, "a.yml")
	assert.NotContains(t, r1.Outcomes, "release.yml")
	for _, submission := range gw.Submissions() {
		for _, change := range submission.Changes {
			assert.NotEqual(t, "release.yml", change.Path)
		}
	}
}

func TestRepositoryTimeoutIsTransient(t *testing.T) {
	store := state.NewMemory()
	gw := reconciletest.NewGateway()
	engine := newTestEngine(t, store, gw, WithTimeout(time.Second))

	// An expired context behaves exactly like a per-repository deadline
	// firing before any path was decided.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Reconcile(ctx, trigger("a.yml", "X"))
	require.NoError(t, err)

	r1 := result.Repos["r1"]
	require.True(t, r1.Failed())
	assert.Equal(t, OutcomeFailed, r1.Outcomes["a.yml"].Outcome)
	assert.True(t, errors.IsTimeout(r1.Err))
	assert.True(t, errors.IsTransient(r1.Err))

	// State untouched, ready for the next trigger.
	record, err := store.Get(ctx, "r1", "a.yml")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestRetire(t *testing.T) {
	store := state.NewMemory()
	gw := reconciletest.NewGateway()
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	_, err := engine.Reconcile(ctx, trigger("a.yml", "X"))
	require.NoError(t, err)

	require.NoError(t, engine.Retire(ctx, "r1", "a.yml"))

	record, err := store.Get(ctx, "r1", "a.yml")
	require.NoError(t, err)
	assert.Nil(t, record)

	err = engine.Retire(ctx, "", "")
	assert.True(t, errors.IsValidationError(err))
}

func TestStatus(t *testing.T) {
	store := state.NewMemory()
	gw := reconciletest.NewGateway()
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	_, err := engine.Reconcile(ctx, trigger("a.yml", "X"))
	require.NoError(t, err)

	// Push r1 into conflict.
	gw.SetTarget("r1", "a.yml", []byte("Z"))
	gw.SetTarget("r2", "a.yml", []byte("Y"))
	_, err = engine.Reconcile(ctx, trigger("a.yml", "Y"))
	require.NoError(t, err)

	status, err := engine.Status(ctx, "c1")
	require.NoError(t, err)

	assert.Equal(t, "c1", status.Category)
	assert.Equal(t, 2, status.Records)
	assert.Equal(t, 1, status.InSync)
	assert.Equal(t, 1, status.Conflicted)
	assert.Equal(t, []string{"r1:a.yml"}, status.ConflictedPaths)

	_, err = engine.Status(ctx, "nope")
	assert.True(t, errors.IsNotFound(err))
}

func TestResultSummary(t *testing.T) {
	store := state.NewMemory()
	gw := reconciletest.NewGateway()
	engine := newTestEngine(t, store, gw)

	result, err := engine.Reconcile(context.Background(), trigger("a.yml", "X"))
	require.NoError(t, err)

	assert.True(t, result.IsSuccess())
	assert.Empty(t, result.Errors())
	assert.Contains(t, result.Summary(), "c1")
	assert.Equal(t, 2, result.Metadata.Stats.Repositories)
	assert.Equal(t, 2, result.Metadata.Stats.Deployed)
	assert.Equal(t, "push-abc123", result.Metadata.SourceReference)
}
