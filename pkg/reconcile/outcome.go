package reconcile

// Outcome classifies the result of reconciling one (repository, path).
type Outcome string

// Per-path reconciliation outcomes.
const (
	// OutcomeInSync means the target already matches the new master
	// content; no deployment was needed. The record may still have been
	// repaired to reflect reality.
	OutcomeInSync Outcome = "in_sync"

	// OutcomeDeployed means the path was included in a successfully
	// submitted batched update.
	OutcomeDeployed Outcome = "deployed"

	// OutcomeConflicted means the target diverged from both the new
	// master content and the last deployment: a manual edit the engine
	// must not overwrite. This is a designed terminal branch, not an
	// error.
	OutcomeConflicted Outcome = "conflicted"

	// OutcomeFailed means a transient or fatal error prevented a
	// decision or deployment for this path.
	OutcomeFailed Outcome = "failed"
)

// PathResult is the outcome for a single template path within a
// repository, with the error when the outcome is OutcomeFailed.
type PathResult struct {
	Outcome Outcome `json:"outcome"`
	Err     error   `json:"-"`
}

// decision is the engine's internal classification of a path before any
// state is written.
type decision int

const (
	decideInSync decision = iota
	decideOverride
	decideDeploy
)
