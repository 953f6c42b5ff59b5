package reconcile

import (
	"fmt"
	"time"
)

// RepoResult is the per-repository outcome map for one trigger.
type RepoResult struct {
	// Repository is the target repository identifier.
	Repository string `json:"repository"`

	// Outcomes maps template path to its reconciliation outcome. No
	// outcome is silently dropped: every path the trigger named for this
	// repository appears here.
	Outcomes map[string]PathResult `json:"outcomes"`

	// Reference is the platform's identifier for the submitted update,
	// set when at least one path was deployed.
	Reference string `json:"reference,omitempty"`

	// Err is the repository-level failure, if the whole repository's
	// reconciliation failed (gateway error, timeout, retry exhaustion).
	Err error `json:"-"`
}

// Failed reports whether the repository reconciliation failed as a whole.
func (r *RepoResult) Failed() bool {
	return r.Err != nil
}

// Result represents the outcome of one reconciliation trigger.
type Result struct {
	// Repos maps repository identifier to its per-path outcomes. One
	// repository's failure never discards another's convergence.
	Repos map[string]*RepoResult `json:"repos"`

	// Metadata about the reconciliation run.
	Metadata ResultMetadata `json:"metadata"`
}

// ResultMetadata contains metadata about the reconciliation run.
type ResultMetadata struct {
	// StartTime when reconciliation started.
	StartTime time.Time `json:"start_time"`

	// EndTime when reconciliation completed.
	EndTime time.Time `json:"end_time"`

	// Duration of the reconciliation.
	Duration time.Duration `json:"duration"`

	// Category that triggered the run.
	Category string `json:"category"`

	// SourceReference is the trigger's opaque upstream reference, passed
	// through for correlation only.
	SourceReference string `json:"source_reference,omitempty"`

	// Stats about the reconciliation.
	Stats ResultStatistics `json:"stats"`
}

// ResultStatistics aggregates outcome counts across the run.
type ResultStatistics struct {
	Repositories int `json:"repositories"`
	InSync       int `json:"in_sync"`
	Deployed     int `json:"deployed"`
	Conflicted   int `json:"conflicted"`
	Failed       int `json:"failed"`
}

// NewResult creates a new result with defaults.
func NewResult(category, sourceReference string) *Result {
	return &Result{
		Repos: make(map[string]*RepoResult),
		Metadata: ResultMetadata{
			StartTime:       time.Now(),
			Category:        category,
			SourceReference: sourceReference,
		},
	}
}

// IsSuccess returns true if no repository failed and no path outcome is
// OutcomeFailed. Conflicted outcomes do not fail a run; they are a
// designed branch reported for operator attention.
func (r *Result) IsSuccess() bool {
	for _, repo := range r.Repos {
		if repo.Failed() {
			return false
		}
		for _, path := range repo.Outcomes {
			if path.Outcome == OutcomeFailed {
				return false
			}
		}
	}
	return true
}

// Errors collects every repository- and path-level error in the result.
func (r *Result) Errors() []error {
	var errs []error
	for _, repo := range r.Repos {
		if repo.Err != nil {
			errs = append(errs, repo.Err)
		}
		for _, path := range repo.Outcomes {
			if path.Err != nil {
				errs = append(errs, path.Err)
			}
		}
	}
	return errs
}

// Finalize calculates duration and aggregates statistics.
func (r *Result) Finalize() {
	r.Metadata.EndTime = time.Now()
	r.Metadata.Duration = r.Metadata.EndTime.Sub(r.Metadata.StartTime)

	stats := ResultStatistics{Repositories: len(r.Repos)}
	for _, repo := range r.Repos {
		for _, path := range repo.Outcomes {
			switch path.Outcome {
			case OutcomeInSync:
				stats.InSync++
			case OutcomeDeployed:
				stats.Deployed++
			case OutcomeConflicted:
				stats.Conflicted++
			case OutcomeFailed:
				stats.Failed++
			}
		}
	}
	r.Metadata.Stats = stats
}

// Summary returns a human-readable summary of the result.
func (r *Result) Summary() string {
	s := r.Metadata.Stats
	if !r.IsSuccess() {
		return fmt.Sprintf("Reconciliation of category %s finished with failures: %d deployed, %d in sync, %d conflicted, %d failed across %d repositories",
			r.Metadata.Category, s.Deployed, s.InSync, s.Conflicted, s.Failed, s.Repositories)
	}
	if s.Conflicted > 0 {
		return fmt.Sprintf("Reconciliation of category %s complete: %d deployed, %d in sync, %d conflicted (manual overrides preserved) across %d repositories",
			r.Metadata.Category, s.Deployed, s.InSync, s.Conflicted, s.Repositories)
	}
	if s.Deployed == 0 {
		return fmt.Sprintf("Reconciliation of category %s complete: all %d repositories already in sync", r.Metadata.Category, s.Repositories)
	}
	return fmt.Sprintf("Reconciliation of category %s complete: %d deployed, %d in sync across %d repositories",
		r.Metadata.Category, s.Deployed, s.InSync, s.Repositories)
}
