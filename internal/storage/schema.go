// Package storage handles all database operations for the auth gate.
package storage

import (
	"database/sql"
	"fmt"
)

// InitSchema creates all required tables and indexes.
// This is idempotent - safe to call multiple times.
func InitSchema(db *sql.DB) error {
	// Enable foreign key constraints
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Execute all DDL statements
	ddlStatements := []string{
		// tokens table: access token records.
		// Timestamps are stored as unix seconds so range comparisons in SQL
		// are exact regardless of driver time formatting.
		`CREATE TABLE IF NOT EXISTS tokens (
			id TEXT PRIMARY KEY,
			owner_id INTEGER NOT NULL,
			scope TEXT NOT NULL,
			class TEXT NOT NULL,
			tier TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL,
			state TEXT NOT NULL,
			evidence_ref TEXT NOT NULL DEFAULT '',
			issued_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			verified_at INTEGER
		)`,

		// Index for the (owner, scope) uniqueness check and owner listings
		`CREATE INDEX IF NOT EXISTS idx_tokens_owner_scope ON tokens(owner_id, scope)`,

		// Index for the expiry sweep
		`CREATE INDEX IF NOT EXISTS idx_tokens_expires ON tokens(expires_at)`,

		// bots table: registered downstream bot instances
		`CREATE TABLE IF NOT EXISTS bots (
			key TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			secret_encrypted BLOB NOT NULL,
			status TEXT NOT NULL DEFAULT 'inactive',
			last_checked_at INTEGER,
			last_error TEXT NOT NULL DEFAULT ''
		)`,

		// policy table: single-row persisted access policy document
		`CREATE TABLE IF NOT EXISTS policy (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			document TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		// admin_keys table: hashed administrative API keys
		`CREATE TABLE IF NOT EXISTS admin_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key_hash TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	// Execute each DDL statement
	for _, stmt := range ddlStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}

	return nil
}
