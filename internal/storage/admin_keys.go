package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateAdminKey stores a new administrative API key hash.
// Returns ErrDuplicate if an identical hash already exists.
func (s *SQLiteStorage) CreateAdminKey(ctx context.Context, name, keyHash string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO admin_keys (key_hash, name) VALUES (?, ?)",
		keyHash, name)
	if err != nil {
		if isConstraintViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("failed to create admin key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get insert ID: %w", err)
	}

	return id, nil
}

// ListAdminKeys returns all admin keys, newest first.
func (s *SQLiteStorage) ListAdminKeys(ctx context.Context) ([]*AdminKey, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, key_hash, name, created_at FROM admin_keys ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query admin keys: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var keys []*AdminKey
	for rows.Next() {
		var k AdminKey
		if err := rows.Scan(&k.ID, &k.KeyHash, &k.Name, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan admin key row: %w", err)
		}
		keys = append(keys, &k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating admin keys: %w", err)
	}

	if keys == nil {
		keys = make([]*AdminKey, 0)
	}

	return keys, nil
}

// DeleteAdminKey deletes an admin key by ID.
// Returns ErrNotFound if the key doesn't exist.
func (s *SQLiteStorage) DeleteAdminKey(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM admin_keys WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete admin key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// HasAnyAdminKey reports whether at least one admin key exists.
// Used at startup to decide whether to bootstrap a key from the environment.
func (s *SQLiteStorage) HasAnyAdminKey(ctx context.Context) (bool, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM admin_keys").Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to count admin keys: %w", err)
	}

	return count > 0, nil
}
