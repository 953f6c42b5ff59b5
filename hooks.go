package teleporter

import (
	"sync"

	"github.com/agentstation/teleporter/pkg/reconcile"
)

// Hook function types for reconciliation events
type (
	// DeployedHook is called for each path a sync deployed. reference is
	// the platform reference of the batched update that carried it.
	DeployedHook func(repository, path, reference string)

	// ConflictHook is called for each path a sync found manually
	// overridden and left untouched.
	ConflictHook func(repository, path string)
)

// hooks manages event callbacks for reconciliation outcomes
type hooks struct {
	mu         sync.RWMutex
	deployed   []DeployedHook
	conflicted []ConflictHook
}

// newHooks creates a new hooks instance
func newHooks() *hooks {
	return &hooks{}
}

func (h *hooks) onDeployed(fn DeployedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deployed = append(h.deployed, fn)
}

func (h *hooks) onConflict(fn ConflictHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conflicted = append(h.conflicted, fn)
}

// fire walks a sync result and triggers registered hooks per outcome.
func (h *hooks) fire(result *reconcile.Result) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.deployed) == 0 && len(h.conflicted) == 0 {
		return
	}

	for repository, repoResult := range result.Repos {
		for path, pathResult := range repoResult.Outcomes {
			switch pathResult.Outcome {
			case reconcile.OutcomeDeployed:
				for _, hook := range h.deployed {
					hook(repository, path, repoResult.Reference)
				}
			case reconcile.OutcomeConflicted:
				for _, hook := range h.conflicted {
					hook(repository, path)
				}
			}
		}
	}
}
