package reconcile

import (
	"context"

	"github.com/agentstation/teleporter/pkg/errors"
	"github.com/agentstation/teleporter/pkg/state"
)

// CategoryStatus summarizes fleet-wide convergence for one category. It is
// operational visibility only; reconciliation decisions never read it.
type CategoryStatus struct {
	// Category is the category name.
	Category string `json:"category"`

	// Records is the number of tracked (repository, path) pairs.
	Records int `json:"records"`

	// InSync counts records whose last deployment matches the last
	// observed master content.
	InSync int `json:"in_sync"`

	// Drifted counts records where the master moved past the last
	// deployment and the next trigger will deploy.
	Drifted int `json:"drifted"`

	// Conflicted counts records with a preserved manual override.
	Conflicted int `json:"conflicted"`

	// NeverDeployed counts records the engine has observed but never
	// written.
	NeverDeployed int `json:"never_deployed"`

	// ConflictedPaths lists the conflicted (repository, path) keys for
	// operator attention.
	ConflictedPaths []string `json:"conflicted_paths,omitempty"`
}

// Status reports convergence state for every record belonging to a
// category's resolved membership.
func (e *Engine) Status(ctx context.Context, category string) (*CategoryStatus, error) {
	paths, err := e.bindings.PathsFor(category)
	if err != nil {
		return nil, err
	}
	repos, err := e.bindings.RepositoriesFor(category)
	if err != nil {
		return nil, err
	}

	records, err := e.store.ListByCategory(ctx, repos, paths)
	if err != nil {
		return nil, errors.WrapStore("list", category, err)
	}

	status := &CategoryStatus{
		Category: category,
		Records:  len(records),
	}
	for i := range records {
		record := &records[i]
		switch record.Phase() {
		case state.PhaseInSync:
			status.InSync++
		case state.PhaseDrifted:
			status.Drifted++
		case state.PhaseConflicted:
			status.Conflicted++
			status.ConflictedPaths = append(status.ConflictedPaths, record.Key())
		case state.PhaseNeverDeployed:
			status.NeverDeployed++
		}
	}
	return status, nil
}
