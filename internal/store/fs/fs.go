// Package fs implements a filesystem-backed state.Store: one JSON file
// per (repository, template path) record under a base directory. It is
// meant for single-process use, local development, and small fleets; the
// version check is enforced under an in-process mutex, so two separate
// processes sharing a directory do not get conditional-write safety.
package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/agentstation/teleporter/pkg/errors"
	"github.com/agentstation/teleporter/pkg/state"
)

// Store is a directory of JSON record files implementing state.Store.
type Store struct {
	mu   sync.Mutex
	base string
}

// Open prepares base as the record directory, creating it if needed.
func Open(base string) (*Store, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, errors.WrapIO("create", base, err)
	}
	return &Store{base: base}, nil
}

// filePath maps a record key onto a flat filename. Path separators and
// other characters unsafe in filenames are replaced so "org/repo" and
// ".github/workflows/ci.yml" collapse into one file per record.
func (s *Store) filePath(repository, path string) string {
	key := state.Key(repository, path)
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*':
			return '_'
		}
		return r
	}, key)
	return filepath.Join(s.base, sanitized+".json")
}

// Get returns the record for (repository, path), or nil if absent.
func (s *Store) Get(ctx context.Context, repository, path string) (*state.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(repository, path)
}

func (s *Store) read(repository, path string) (*state.Record, error) {
	data, err := os.ReadFile(s.filePath(repository, path))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapIO("read", s.filePath(repository, path), err)
	}

	var record state.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.WrapIO("decode", s.filePath(repository, path), err)
	}
	return &record, nil
}

// Put performs a conditional write keyed on the stored version.
func (s *Store) Put(ctx context.Context, record state.Record, expectedVersion *uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.read(record.Repository, record.Path)
	if err != nil {
		return err
	}

	if expectedVersion == nil {
		if stored != nil {
			return errors.NewVersionConflictError(record.Repository, record.Path, 0, stored.Version)
		}
		record.Version = 1
	} else {
		if stored == nil {
			return errors.NewVersionConflictError(record.Repository, record.Path, *expectedVersion, 0)
		}
		if stored.Version != *expectedVersion {
			return errors.NewVersionConflictError(record.Repository, record.Path, *expectedVersion, stored.Version)
		}
		record.Version = *expectedVersion + 1
	}

	return s.write(record)
}

// write serializes via a temporary file and rename so readers never see a
// partially written record.
func (s *Store) write(record state.Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errors.WrapIO("encode", record.Key(), err)
	}

	path := s.filePath(record.Repository, record.Path)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.WrapIO("write", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.WrapIO("rename", path, err)
	}
	return nil
}

// Delete removes the record for (repository, path).
func (s *Store) Delete(ctx context.Context, repository, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.filePath(repository, path))
	if err != nil && !os.IsNotExist(err) {
		return errors.WrapIO("delete", s.filePath(repository, path), err)
	}
	return nil
}

// ListByCategory scans every record file and filters by the category's
// resolved membership.
func (s *Store) ListByCategory(ctx context.Context, repositories, paths []string) ([]state.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repoSet := make(map[string]struct{}, len(repositories))
	for _, repository := range repositories {
		repoSet[repository] = struct{}{}
	}
	pathSet := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		pathSet[path] = struct{}{}
	}

	entries, err := os.ReadDir(s.base)
	if err != nil {
		return nil, errors.WrapIO("list", s.base, err)
	}

	var records []state.Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.base, entry.Name()))
		if err != nil {
			return nil, errors.WrapIO("read", entry.Name(), err)
		}
		var record state.Record
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, errors.WrapIO("decode", entry.Name(), err)
		}
		if _, ok := repoSet[record.Repository]; !ok {
			continue
		}
		if _, ok := pathSet[record.Path]; !ok {
			continue
		}
		records = append(records, record)
	}
	slices.SortFunc(records, func(a, b state.Record) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return records, nil
}
