// Package reconciletest provides an in-memory platform gateway fake for
// exercising the reconciliation engine without a real platform.
package reconciletest

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentstation/teleporter/pkg/errors"
	"github.com/agentstation/teleporter/pkg/gateway"
)

// Submission records one SubmitUpdate call.
type Submission struct {
	Repository string
	Changes    []gateway.Change
}

// Gateway is an in-memory gateway.Gateway. A successful SubmitUpdate
// applies the change set to the repository's content, modeling an update
// that lands downstream.
type Gateway struct {
	mu          sync.Mutex
	master      map[string][]byte            // category "/" path -> content
	targets     map[string]map[string][]byte // repository -> path -> content
	submissions []Submission
	updates     int

	// SubmitErr, when set, fails every SubmitUpdate without applying.
	SubmitErr error

	// SubmitErrs fails SubmitUpdate for specific repositories only.
	SubmitErrs map[string]error

	// TargetErr, when set, fails every TargetContent call.
	TargetErr error

	// OnSubmit, when set, runs inside SubmitUpdate before the change set
	// is applied. Tests use it to interleave concurrent state changes.
	OnSubmit func(repository string)
}

// NewGateway creates an empty fake gateway.
func NewGateway() *Gateway {
	return &Gateway{
		master:  make(map[string][]byte),
		targets: make(map[string]map[string][]byte),
	}
}

// SetMaster sets canonical content for a category path.
func (g *Gateway) SetMaster(category, path string, content []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.master[category+"/"+path] = content
}

// SetTarget sets a repository's current content for a path.
func (g *Gateway) SetTarget(repository, path string, content []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.targets[repository] == nil {
		g.targets[repository] = make(map[string][]byte)
	}
	g.targets[repository][path] = content
}

// RemoveTarget deletes a repository path, restoring the "never existed
// downstream" state.
func (g *Gateway) RemoveTarget(repository, path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.targets[repository], path)
}

// Target returns a repository's current content for a path.
func (g *Gateway) Target(repository, path string) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	content, ok := g.targets[repository][path]
	return content, ok
}

// Submissions returns every recorded SubmitUpdate call.
func (g *Gateway) Submissions() []Submission {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Submission(nil), g.submissions...)
}

// SubmitCount returns how many updates were submitted.
func (g *Gateway) SubmitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submissions)
}

// MasterContent implements gateway.Gateway.
func (g *Gateway) MasterContent(_ context.Context, category, path string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	content, ok := g.master[category+"/"+path]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", errors.ErrTemplateNotFound, category, path)
	}
	return content, nil
}

// TargetContent implements gateway.Gateway.
func (g *Gateway) TargetContent(_ context.Context, repository, path string) ([]byte, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.TargetErr != nil {
		return nil, false, g.TargetErr
	}
	content, ok := g.targets[repository][path]
	if !ok {
		return nil, false, nil
	}
	return content, true, nil
}

// SubmitUpdate implements gateway.Gateway.
func (g *Gateway) SubmitUpdate(_ context.Context, repository string, changes []gateway.Change) (*gateway.UpdateResult, error) {
	g.mu.Lock()
	onSubmit := g.OnSubmit
	g.mu.Unlock()

	if onSubmit != nil {
		onSubmit(repository)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.SubmitErr != nil {
		return nil, g.SubmitErr
	}
	if err, ok := g.SubmitErrs[repository]; ok {
		return nil, err
	}

	if g.targets[repository] == nil {
		g.targets[repository] = make(map[string][]byte)
	}
	paths := make([]string, len(changes))
	for i, change := range changes {
		g.targets[repository][change.Path] = append([]byte(nil), change.Content...)
		paths[i] = change.Path
	}

	g.updates++
	g.submissions = append(g.submissions, Submission{
		Repository: repository,
		Changes:    append([]gateway.Change(nil), changes...),
	})

	return &gateway.UpdateResult{
		Reference:    fmt.Sprintf("update-%d", g.updates),
		AppliedPaths: paths,
	}, nil
}
