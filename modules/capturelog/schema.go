package capturelog

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order; all are idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS captures (
		id             TEXT    PRIMARY KEY,
		session_id     TEXT    NOT NULL,
		session_name   TEXT    NOT NULL DEFAULT '',
		timestamp      INTEGER NOT NULL,
		width          INTEGER NOT NULL DEFAULT 0,
		height         INTEGER NOT NULL DEFAULT 0,
		format         TEXT    NOT NULL DEFAULT '',
		image_path     TEXT    NOT NULL,
		thumbnail_path TEXT    NOT NULL DEFAULT '',
		sidecar_path   TEXT    NOT NULL DEFAULT '',
		attributes     BLOB,
		created_at     TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_captures_created ON captures(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_captures_session ON captures(session_id, timestamp)`,
}

// migrate brings the schema to schemaVersion.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("capturelog: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("capturelog: read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("capturelog: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("capturelog: record schema version: %w", err)
	}
	return nil
}
