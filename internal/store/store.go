package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skysync/skysync/internal/conflict"
	"github.com/skysync/skysync/internal/operation"
	"github.com/skysync/skysync/internal/version"
)

// Store provides SQLite-backed persistence for operation history, the
// conflict audit trail, and per-file sync baselines.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the SQLite database at dbPath (":memory:" for tests) and runs
// migrations.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Operation history
// ============================================================================

// SaveOperation inserts or replaces one operation record.
func (s *Store) SaveOperation(op *operation.Operation) error {
	metadata, err := json.Marshal(op.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal operation metadata: %w", err)
	}

	const query = `
		INSERT OR REPLACE INTO operations (
			id, type, local_path, remote_path, provider, status, created_at,
			started_at, completed_at, progress, bytes_transferred, total_bytes,
			error_message, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		op.ID, op.Type, op.LocalPath, op.RemotePath, op.Provider, op.Status,
		op.CreatedAt, nullableTime(op.StartedAt), nullableTime(op.CompletedAt),
		op.Progress, op.BytesTransferred, op.TotalBytes,
		op.ErrorMessage, string(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to save operation: %w", err)
	}
	return nil
}

// ListOperations retrieves operations matching the filter, newest first.
func (s *Store) ListOperations(f operation.HistoryFilter) ([]*operation.Operation, error) {
	query := `
		SELECT id, type, local_path, remote_path, provider, status, created_at,
		       started_at, completed_at, progress, bytes_transferred, total_bytes,
		       error_message, metadata
		FROM operations
	`
	var (
		where []string
		args  []interface{}
	)
	if f.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, f.Provider)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since)
	}
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []*operation.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return ops, nil
}

// GetOperation retrieves one operation by ID.
func (s *Store) GetOperation(id string) (*operation.Operation, error) {
	const query = `
		SELECT id, type, local_path, remote_path, provider, status, created_at,
		       started_at, completed_at, progress, bytes_transferred, total_bytes,
		       error_message, metadata
		FROM operations WHERE id = ?
	`
	row := s.db.QueryRow(query, id)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("operation not found: %s", id)
	}
	return op, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row rowScanner) (*operation.Operation, error) {
	var (
		op        operation.Operation
		started   sql.NullTime
		completed sql.NullTime
		metadata  string
	)
	err := row.Scan(
		&op.ID, &op.Type, &op.LocalPath, &op.RemotePath, &op.Provider,
		&op.Status, &op.CreatedAt, &started, &completed, &op.Progress,
		&op.BytesTransferred, &op.TotalBytes, &op.ErrorMessage, &metadata,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan operation: %w", err)
	}
	if started.Valid {
		t := started.Time
		op.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		op.CompletedAt = &t
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &op.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal operation metadata: %w", err)
		}
	}
	return &op, nil
}

// ============================================================================
// Conflict audit trail
// ============================================================================

// SaveConflict inserts or replaces one conflict record. FileVersions are
// stored as JSON so the record round-trips field for field.
func (s *Store) SaveConflict(c *conflict.Conflict) error {
	local, err := json.Marshal(c.Local)
	if err != nil {
		return fmt.Errorf("failed to marshal local version: %w", err)
	}
	remote, err := json.Marshal(c.Remote)
	if err != nil {
		return fmt.Errorf("failed to marshal remote version: %w", err)
	}

	const query = `
		INSERT OR REPLACE INTO conflicts (
			id, file_path, provider, type, local_version, remote_version,
			detected_at, severity, description, is_resolved, resolution, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		c.ID, c.FilePath, c.Provider, c.Type, string(local), string(remote),
		c.DetectedAt, c.Severity, c.Description, c.Resolved,
		string(c.Resolution), nullableTime(c.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save conflict: %w", err)
	}
	return nil
}

// GetConflict retrieves one conflict by ID.
func (s *Store) GetConflict(id string) (*conflict.Conflict, error) {
	const query = `
		SELECT id, file_path, provider, type, local_version, remote_version,
		       detected_at, severity, description, is_resolved, resolution, resolved_at
		FROM conflicts WHERE id = ?
	`
	row := s.db.QueryRow(query, id)
	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conflict not found: %s", id)
	}
	return c, err
}

// ListConflicts retrieves conflicts, optionally only unresolved ones and
// optionally filtered by provider, newest first.
func (s *Store) ListConflicts(provider string, onlyUnresolved bool) ([]*conflict.Conflict, error) {
	query := `
		SELECT id, file_path, provider, type, local_version, remote_version,
		       detected_at, severity, description, is_resolved, resolution, resolved_at
		FROM conflicts
	`
	var (
		where []string
		args  []interface{}
	)
	if provider != "" {
		where = append(where, "provider = ?")
		args = append(args, provider)
	}
	if onlyUnresolved {
		where = append(where, "is_resolved = 0")
	}
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}
	query += " ORDER BY detected_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*conflict.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return conflicts, nil
}

func scanConflict(row rowScanner) (*conflict.Conflict, error) {
	var (
		c          conflict.Conflict
		local      string
		remote     string
		resolution string
		resolvedAt sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.FilePath, &c.Provider, &c.Type, &local, &remote,
		&c.DetectedAt, &c.Severity, &c.Description, &c.Resolved,
		&resolution, &resolvedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan conflict: %w", err)
	}
	if err := json.Unmarshal([]byte(local), &c.Local); err != nil {
		return nil, fmt.Errorf("failed to unmarshal local version: %w", err)
	}
	if err := json.Unmarshal([]byte(remote), &c.Remote); err != nil {
		return nil, fmt.Errorf("failed to unmarshal remote version: %w", err)
	}
	c.Resolution = conflict.Resolution(resolution)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}
	return &c, nil
}

// ============================================================================
// Sync baselines
// ============================================================================

// UpsertBaseline records the last agreed state for one (provider, path).
func (s *Store) UpsertBaseline(b *conflict.Baseline) error {
	const query = `
		INSERT OR REPLACE INTO baselines (
			provider, path, checksum, size, modified_at, synced_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		b.Provider, b.Path, b.Checksum, b.Size, b.ModifiedAt, b.SyncedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert baseline: %w", err)
	}
	return nil
}

// GetBaseline retrieves the baseline for one (provider, path), or nil when
// the file was never synced.
func (s *Store) GetBaseline(provider, path string) (*conflict.Baseline, error) {
	const query = `
		SELECT provider, path, checksum, size, modified_at, synced_at
		FROM baselines WHERE provider = ? AND path = ?
	`
	b := &conflict.Baseline{}
	err := s.db.QueryRow(query, provider, path).Scan(
		&b.Provider, &b.Path, &b.Checksum, &b.Size, &b.ModifiedAt, &b.SyncedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query baseline: %w", err)
	}
	return b, nil
}

// DeleteBaseline removes the baseline for one (provider, path).
func (s *Store) DeleteBaseline(provider, path string) error {
	if _, err := s.db.Exec("DELETE FROM baselines WHERE provider = ? AND path = ?", provider, path); err != nil {
		return fmt.Errorf("failed to delete baseline: %w", err)
	}
	return nil
}

// RecordBaseline is a convenience that derives a baseline from a local
// snapshot after a successful transfer.
func (s *Store) RecordBaseline(providerID, path string, v version.FileVersion, syncedAt time.Time) error {
	return s.UpsertBaseline(&conflict.Baseline{
		Provider:   providerID,
		Path:       path,
		Checksum:   v.Checksum,
		Size:       v.Size,
		ModifiedAt: v.ModifiedAt,
		SyncedAt:   syncedAt,
	})
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
