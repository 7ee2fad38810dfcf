package store

import (
	"fmt"
)

// migrate runs all pending migrations.
func (s *Store) migrate() error {
	const createMigrationsTableSQL = `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE operations (
					id TEXT PRIMARY KEY,
					type TEXT NOT NULL,
					local_path TEXT NOT NULL,
					remote_path TEXT NOT NULL,
					provider TEXT NOT NULL,
					status TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					started_at DATETIME,
					completed_at DATETIME,
					progress REAL DEFAULT 0,
					bytes_transferred INTEGER DEFAULT 0,
					total_bytes INTEGER DEFAULT 0,
					error_message TEXT,
					metadata TEXT
				);

				CREATE INDEX idx_operations_provider ON operations(provider);
				CREATE INDEX idx_operations_created_at ON operations(created_at);

				CREATE TABLE conflicts (
					id TEXT PRIMARY KEY,
					file_path TEXT NOT NULL,
					provider TEXT NOT NULL,
					type TEXT NOT NULL,
					local_version TEXT NOT NULL,
					remote_version TEXT NOT NULL,
					detected_at DATETIME NOT NULL,
					severity TEXT NOT NULL,
					description TEXT,
					is_resolved INTEGER DEFAULT 0,
					resolution TEXT,
					resolved_at DATETIME
				);

				CREATE INDEX idx_conflicts_provider ON conflicts(provider);
				CREATE INDEX idx_conflicts_unresolved ON conflicts(is_resolved);

				CREATE TABLE baselines (
					provider TEXT NOT NULL,
					path TEXT NOT NULL,
					checksum TEXT NOT NULL,
					size INTEGER DEFAULT 0,
					modified_at DATETIME,
					synced_at DATETIME NOT NULL,
					PRIMARY KEY (provider, path)
				);
			`,
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}

		s.logger.Info("applied migration", "version", m.version)
	}

	return nil
}
