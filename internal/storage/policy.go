package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SavePolicyDocument persists the access policy document, replacing any
// previous version. The document is already validated by the policy engine.
func (s *SQLiteStorage) SavePolicyDocument(ctx context.Context, raw []byte, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policy (id, document, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		string(raw), updatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save policy document: %w", err)
	}

	return nil
}

// LoadPolicyDocument returns the persisted policy document.
// Returns ErrNotFound if no document has ever been saved.
func (s *SQLiteStorage) LoadPolicyDocument(ctx context.Context) ([]byte, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT document FROM policy WHERE id = 1").Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load policy document: %w", err)
	}

	return []byte(raw), nil
}
