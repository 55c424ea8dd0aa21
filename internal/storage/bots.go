package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Bot statuses.
const (
	BotStatusActive        = "active"
	BotStatusInactive      = "inactive"
	BotStatusError         = "error"
	BotStatusNotConfigured = "not_configured"
)

// CreateBot inserts a new bot registry entry.
// Returns ErrDuplicate if the key is already registered.
func (s *SQLiteStorage) CreateBot(ctx context.Context, b *BotRecord) error {
	var lastChecked sql.NullInt64
	if !b.LastCheckedAt.IsZero() {
		lastChecked = sql.NullInt64{Int64: b.LastCheckedAt.Unix(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bots (key, display_name, secret_encrypted, status, last_checked_at, last_error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.Key, b.DisplayName, b.SecretEncrypted, b.Status, lastChecked, b.LastError)

	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create bot: %w", err)
	}

	return nil
}

// GetBot retrieves a bot by key.
// Returns ErrNotFound if the key is not registered.
func (s *SQLiteStorage) GetBot(ctx context.Context, key string) (*BotRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT key, display_name, secret_encrypted, status, last_checked_at, last_error FROM bots WHERE key = ?",
		key)

	b, err := scanBot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get bot: %w", err)
	}

	return b, nil
}

// ListBots returns all registered bots ordered by key.
func (s *SQLiteStorage) ListBots(ctx context.Context) ([]*BotRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, display_name, secret_encrypted, status, last_checked_at, last_error FROM bots ORDER BY key ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query bots: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var bots []*BotRecord
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot row: %w", err)
		}
		bots = append(bots, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bots: %w", err)
	}

	if bots == nil {
		bots = make([]*BotRecord, 0)
	}

	return bots, nil
}

// UpdateBotStatus records the outcome of a liveness probe or an
// administrative status change.
// Returns ErrNotFound if the key is not registered.
func (s *SQLiteStorage) UpdateBotStatus(ctx context.Context, key, status string, checkedAt time.Time, lastError string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE bots SET status = ?, last_checked_at = ?, last_error = ? WHERE key = ?",
		status, checkedAt.Unix(), lastError, key)
	if err != nil {
		return fmt.Errorf("failed to update bot status: %w", err)
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

// DeleteBot removes a bot registry entry. Tokens scoped to the key are
// deliberately left in place; they become unresolvable at validation time.
// Returns ErrNotFound if the key is not registered.
func (s *SQLiteStorage) DeleteBot(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM bots WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete bot: %w", err)
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

// EncryptBotSecret encrypts a bot secret with the storage encryption key.
func (s *SQLiteStorage) EncryptBotSecret(secret string) ([]byte, error) {
	return EncryptSecret(secret, s.encryptionKey)
}

// DecryptBotSecret decrypts a stored bot secret.
func (s *SQLiteStorage) DecryptBotSecret(encrypted []byte) (string, error) {
	return DecryptSecret(encrypted, s.encryptionKey)
}

func scanBot(row scanner) (*BotRecord, error) {
	var b BotRecord
	var lastChecked sql.NullInt64

	err := row.Scan(&b.Key, &b.DisplayName, &b.SecretEncrypted, &b.Status, &lastChecked, &b.LastError)
	if err != nil {
		return nil, err
	}

	if lastChecked.Valid {
		b.LastCheckedAt = time.Unix(lastChecked.Int64, 0).UTC()
	}

	return &b, nil
}
