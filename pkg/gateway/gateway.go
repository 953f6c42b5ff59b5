// Package gateway defines the platform interface the reconciliation engine
// drives: fetching canonical and target content, and submitting one
// batched update per repository. Concrete backends (GitHub, test fakes)
// implement Gateway; the engine depends only on this abstraction.
package gateway

import (
	"context"
)

// Change is one (path, content) entry in a batched update. Order within a
// batch is preserved.
type Change struct {
	Path    string
	Content []byte
}

// UpdateResult describes a successfully submitted batched update.
type UpdateResult struct {
	// Reference is an opaque change-request identifier (for GitHub, the
	// pull request URL).
	Reference string

	// AppliedPaths lists the paths the platform actually applied, in
	// batch order.
	AppliedPaths []string
}

// Gateway is the platform interface consumed by the engine.
//
// Failures are reported with the typed errors from pkg/errors:
// authentication as *errors.AuthenticationError, rate limiting matching
// errors.ErrRateLimited, missing repositories as *errors.RepoNotFoundError,
// and other API failures as *errors.GatewayError.
type Gateway interface {
	// MasterContent fetches the canonical content for a template path in
	// a category. It fails with an error matching errors.ErrTemplateNotFound
	// if the path does not exist in the canonical source.
	MasterContent(ctx context.Context, category, path string) ([]byte, error)

	// TargetContent fetches the current content of a path in a target
	// repository. ok is false when the file does not exist downstream;
	// that is a valid state distinct from empty content, not an error.
	TargetContent(ctx context.Context, repository, path string) (content []byte, ok bool, err error)

	// SubmitUpdate submits one batched change set for a repository and
	// returns the platform's reference for it. The engine calls this at
	// most once per repository per trigger.
	SubmitUpdate(ctx context.Context, repository string, changes []Change) (*UpdateResult, error)
}
