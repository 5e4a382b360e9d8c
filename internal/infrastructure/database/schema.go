package database

import (
	"context"
	"fmt"
)

// schema holds the settings-store DDL.
//
// The schema is small enough that versioned migration machinery would be
// overkill; statements are idempotent (IF NOT EXISTS) and applied on every
// startup.
const schema = `
CREATE TABLE IF NOT EXISTS units (
    unit_id    TEXT PRIMARY KEY,
    serial     TEXT NOT NULL UNIQUE,
    name       TEXT NOT NULL DEFAULT '',
    ip         TEXT NOT NULL,
    port       INTEGER NOT NULL,
    mac        TEXT NOT NULL DEFAULT '',
    firmware   TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS unit_settings (
    unit_id    TEXT NOT NULL REFERENCES units(unit_id) ON DELETE CASCADE,
    key        TEXT NOT NULL,
    value      TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (unit_id, key)
);

CREATE INDEX IF NOT EXISTS idx_unit_settings_unit ON unit_settings(unit_id);
`

// InitSchema creates the settings-store tables if they do not exist.
// Safe to call on every startup.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: If schema creation fails
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialising schema: %w", err)
	}
	return nil
}
