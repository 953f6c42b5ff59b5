// Package state defines the persisted record the reconciliation engine
// keeps per (repository, template path) and the Store interface durable
// backends implement. The conditional write on Store.Put is the engine's
// sole concurrency-control primitive: there are no locks around
// reconciliation, only optimistic version checks.
package state

import (
	"context"

	"github.com/agentstation/utc"

	"github.com/agentstation/teleporter/pkg/checksum"
)

// Phase is the conceptual lifecycle phase of a record, derived from its
// checksums rather than persisted separately.
type Phase string

// Record lifecycle phases.
const (
	// PhaseNeverDeployed means the engine has never written this path.
	PhaseNeverDeployed Phase = "never_deployed"

	// PhaseInSync means the last deployed content matches the last
	// observed master content.
	PhaseInSync Phase = "in_sync"

	// PhaseDrifted means the master moved past the last deployment and
	// the path is awaiting the next safe deploy.
	PhaseDrifted Phase = "drifted"

	// PhaseConflicted means the target diverged from both master and the
	// last deployment: a human edit the engine must not overwrite.
	PhaseConflicted Phase = "conflicted"
)

// Record is the persisted state for one (repository, template path) pair.
type Record struct {
	// Repository is the opaque identifier of the target repository.
	Repository string `json:"repository" yaml:"repository"`

	// Path is the template file path within the repository.
	Path string `json:"path" yaml:"path"`

	// MasterChecksum is the digest of the content last observed in the
	// canonical source for this path.
	MasterChecksum checksum.Digest `json:"master_checksum" yaml:"master_checksum"`

	// DeployedChecksum is the digest of the content this engine last
	// successfully wrote into the target repository. Empty means never
	// deployed. It is only ever set from digests the engine itself
	// computed, never from externally observed content.
	DeployedChecksum checksum.Digest `json:"deployed_checksum,omitempty" yaml:"deployed_checksum,omitempty"`

	// TargetChecksum is the digest last observed in the target repository,
	// persisted for diagnostics when a manual override is detected.
	TargetChecksum checksum.Digest `json:"target_checksum,omitempty" yaml:"target_checksum,omitempty"`

	// LastUpdated is when the record last transitioned.
	LastUpdated utc.Time `json:"last_updated" yaml:"last_updated"`

	// Version is a monotonically increasing counter used for conditional
	// writes.
	Version uint64 `json:"version" yaml:"version"`
}

// Key returns the store key for a (repository, path) pair.
func Key(repository, path string) string {
	return repository + ":" + path
}

// Key returns the record's store key.
func (r *Record) Key() string {
	return Key(r.Repository, r.Path)
}

// NeverDeployed reports whether the engine has ever written this path.
func (r *Record) NeverDeployed() bool {
	return r.DeployedChecksum.IsZero()
}

// Conflicted reports whether the record captured a manual override: an
// observed target digest that matches neither the master nor the last
// deployment.
func (r *Record) Conflicted() bool {
	return !r.TargetChecksum.IsZero() &&
		r.TargetChecksum != r.MasterChecksum &&
		r.TargetChecksum != r.DeployedChecksum
}

// Phase derives the record's lifecycle phase from its checksums.
func (r *Record) Phase() Phase {
	switch {
	case r.Conflicted():
		return PhaseConflicted
	case r.NeverDeployed():
		return PhaseNeverDeployed
	case r.MasterChecksum == r.DeployedChecksum:
		return PhaseInSync
	default:
		return PhaseDrifted
	}
}

// Store is the durable persistence interface consumed by the engine.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the record for (repository, path), or nil if absent.
	// Absence is a valid state, not an error.
	Get(ctx context.Context, repository, path string) (*Record, error)

	// Put performs a conditional write. With expectedVersion nil the
	// record must not yet exist; otherwise the stored version must match
	// *expectedVersion. On mismatch Put fails with a
	// *errors.VersionConflictError, which callers must treat as "someone
	// else updated this record concurrently: reload and re-evaluate".
	// On success the stored record's Version is the next counter value.
	Put(ctx context.Context, record Record, expectedVersion *uint64) error

	// Delete removes the record for (repository, path). Deleting an
	// absent record is not an error.
	Delete(ctx context.Context, repository, path string) error

	// ListByCategory returns all records belonging to a category's
	// resolved membership: the given repositories crossed with the given
	// template paths. Category resolution itself lives in the bindings,
	// so backends only filter.
	ListByCategory(ctx context.Context, repositories, paths []string) ([]Record, error)
}
