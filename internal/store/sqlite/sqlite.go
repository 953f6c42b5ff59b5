// Package sqlite implements a durable state.Store on SQLite. The
// conditional-write contract is enforced inside the database: updates
// carry a WHERE version = ? guard and a zero row count is reported as a
// version conflict, so concurrent engine runs against the same database
// resolve through the store exactly like the in-memory implementation.
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/agentstation/utc"

	// Import SQLite driver for database/sql
	_ "modernc.org/sqlite"

	"github.com/agentstation/teleporter/pkg/checksum"
	"github.com/agentstation/teleporter/pkg/errors"
	"github.com/agentstation/teleporter/pkg/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS template_records (
	repository        TEXT NOT NULL,
	path              TEXT NOT NULL,
	master_checksum   TEXT NOT NULL DEFAULT '',
	deployed_checksum TEXT NOT NULL DEFAULT '',
	target_checksum   TEXT NOT NULL DEFAULT '',
	last_updated      TEXT NOT NULL,
	version           INTEGER NOT NULL,
	PRIMARY KEY (repository, path)
);
`

// Store is a SQLite-backed state.Store.
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary creates) a SQLite database at path and
// prepares the schema. Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.NewStoreError("open", path, err)
	}

	// database/sql pools connections; an in-memory SQLite database only
	// exists per connection, and busy timeouts cover file-backed
	// contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, errors.NewStoreError("configure", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.NewStoreError("migrate", path, err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the record for (repository, path), or nil if absent.
func (s *Store) Get(ctx context.Context, repository, path string) (*state.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT repository, path, master_checksum, deployed_checksum, target_checksum, last_updated, version
		FROM template_records
		WHERE repository = ? AND path = ?`,
		repository, path)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStoreError("get", state.Key(repository, path), err)
	}
	return record, nil
}

// Put performs a conditional write keyed on the stored version.
func (s *Store) Put(ctx context.Context, record state.Record, expectedVersion *uint64) error {
	if expectedVersion == nil {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO template_records
				(repository, path, master_checksum, deployed_checksum, target_checksum, last_updated, version)
			VALUES (?, ?, ?, ?, ?, ?, 1)`,
			record.Repository, record.Path,
			record.MasterChecksum.String(), record.DeployedChecksum.String(), record.TargetChecksum.String(),
			record.LastUpdated.Format(time.RFC3339Nano))
		if err != nil {
			if isUniqueViolation(err) {
				stored, getErr := s.Get(ctx, record.Repository, record.Path)
				if getErr == nil && stored != nil {
					return errors.NewVersionConflictError(record.Repository, record.Path, 0, stored.Version)
				}
				return errors.NewVersionConflictError(record.Repository, record.Path, 0, 0)
			}
			return errors.NewStoreError("put", record.Key(), err)
		}
		return nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE template_records
		SET master_checksum = ?, deployed_checksum = ?, target_checksum = ?, last_updated = ?, version = version + 1
		WHERE repository = ? AND path = ? AND version = ?`,
		record.MasterChecksum.String(), record.DeployedChecksum.String(), record.TargetChecksum.String(),
		record.LastUpdated.Format(time.RFC3339Nano),
		record.Repository, record.Path, *expectedVersion)
	if err != nil {
		return errors.NewStoreError("put", record.Key(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewStoreError("put", record.Key(), err)
	}
	if affected == 0 {
		stored, getErr := s.Get(ctx, record.Repository, record.Path)
		if getErr == nil && stored != nil {
			return errors.NewVersionConflictError(record.Repository, record.Path, *expectedVersion, stored.Version)
		}
		return errors.NewVersionConflictError(record.Repository, record.Path, *expectedVersion, 0)
	}
	return nil
}

// Delete removes the record for (repository, path).
func (s *Store) Delete(ctx context.Context, repository, path string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM template_records WHERE repository = ? AND path = ?`,
		repository, path)
	if err != nil {
		return errors.NewStoreError("delete", state.Key(repository, path), err)
	}
	return nil
}

// ListByCategory returns records whose repository and path are both in
// the given membership sets.
func (s *Store) ListByCategory(ctx context.Context, repositories, paths []string) ([]state.Record, error) {
	if len(repositories) == 0 || len(paths) == 0 {
		return nil, nil
	}

	query := `
		SELECT repository, path, master_checksum, deployed_checksum, target_checksum, last_updated, version
		FROM template_records
		WHERE repository IN (` + placeholders(len(repositories)) + `)
		  AND path IN (` + placeholders(len(paths)) + `)
		ORDER BY repository, path`

	args := make([]any, 0, len(repositories)+len(paths))
	for _, repository := range repositories {
		args = append(args, repository)
	}
	for _, path := range paths {
		args = append(args, path)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStoreError("list", "", err)
	}
	defer rows.Close()

	var records []state.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, errors.NewStoreError("list", "", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError("list", "", err)
	}
	return records, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*state.Record, error) {
	var (
		record    state.Record
		master    string
		deployed  string
		target    string
		updatedAt string
	)
	if err := s.Scan(&record.Repository, &record.Path, &master, &deployed, &target, &updatedAt, &record.Version); err != nil {
		return nil, err
	}
	record.MasterChecksum = checksum.Digest(master)
	record.DeployedChecksum = checksum.Digest(deployed)
	record.TargetChecksum = checksum.Digest(target)

	parsed, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, err
	}
	record.LastUpdated = utc.Time{Time: parsed}
	return &record, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
