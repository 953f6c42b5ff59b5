package state

import (
	"context"
	"slices"
	"sync"

	"github.com/agentstation/teleporter/pkg/errors"
)

// Memory is an in-memory Store with the same conditional-write semantics
// as the durable backends. It backs tests and single-process runs.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]Record),
	}
}

// Get returns the record for (repository, path), or nil if absent.
func (m *Memory) Get(_ context.Context, repository, path string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[Key(repository, path)]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// Put performs a conditional write keyed on the record's version.
func (m *Memory) Put(_ context.Context, record Record, expectedVersion *uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := record.Key()
	stored, exists := m.records[key]

	switch {
	case expectedVersion == nil:
		if exists {
			return errors.NewVersionConflictError(record.Repository, record.Path, 0, stored.Version)
		}
		record.Version = 1
	default:
		if !exists {
			return errors.NewVersionConflictError(record.Repository, record.Path, *expectedVersion, 0)
		}
		if stored.Version != *expectedVersion {
			return errors.NewVersionConflictError(record.Repository, record.Path, *expectedVersion, stored.Version)
		}
		record.Version = *expectedVersion + 1
	}

	m.records[key] = record
	return nil
}

// Delete removes the record for (repository, path).
func (m *Memory) Delete(_ context.Context, repository, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, Key(repository, path))
	return nil
}

// ListByCategory returns records whose repository and path are both in the
// given membership sets.
func (m *Memory) ListByCategory(_ context.Context, repositories, paths []string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []Record
	for _, record := range m.records {
		if slices.Contains(repositories, record.Repository) && slices.Contains(paths, record.Path) {
			records = append(records, record)
		}
	}

	slices.SortFunc(records, func(a, b Record) int {
		if a.Repository != b.Repository {
			if a.Repository < b.Repository {
				return -1
			}
			return 1
		}
		if a.Path < b.Path {
			return -1
		}
		if a.Path > b.Path {
			return 1
		}
		return 0
	})
	return records, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
