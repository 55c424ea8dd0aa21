package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Token verification states.
const (
	StatePending  = "pending"
	StateVerified = "verified"
	StateExpired  = "expired"
	StateRevoked  = "revoked"
)

// PutToken inserts a new token record.
// Returns ErrDuplicate if a token with the same id already exists.
func (s *SQLiteStorage) PutToken(ctx context.Context, t *TokenRecord) error {
	var verifiedAt sql.NullInt64
	if !t.VerifiedAt.IsZero() {
		verifiedAt = sql.NullInt64{Int64: t.VerifiedAt.Unix(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (id, owner_id, scope, class, tier, method, state, evidence_ref, issued_at, expires_at, verified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.Scope, t.Class, t.Tier, t.Method, t.State, t.EvidenceRef,
		t.IssuedAt.Unix(), t.ExpiresAt.Unix(), verifiedAt)

	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert token: %w", err)
	}

	return nil
}

const tokenColumns = "id, owner_id, scope, class, tier, method, state, evidence_ref, issued_at, expires_at, verified_at"

// GetToken retrieves a token by id.
// Returns ErrNotFound if the id is unknown.
func (s *SQLiteStorage) GetToken(ctx context.Context, id string) (*TokenRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE id = ?", id)

	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	return t, nil
}

// FindActiveToken returns the token occupying (ownerID, scope), if any.
// A scope is occupied by any unexpired pending or verified token: a pending
// token counts because confirming it later would otherwise produce a second
// simultaneously active token for the same owner and scope.
// Rows past expires_at are treated as absent regardless of state.
// Returns ErrNotFound when the scope is free.
func (s *SQLiteStorage) FindActiveToken(ctx context.Context, ownerID int64, scope string, now time.Time) (*TokenRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+tokenColumns+` FROM tokens
		 WHERE owner_id = ? AND scope = ? AND state IN (?, ?) AND expires_at > ?
		 ORDER BY issued_at DESC LIMIT 1`,
		ownerID, scope, StatePending, StateVerified, now.Unix())

	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find active token: %w", err)
	}

	return t, nil
}

// ListTokensByOwner returns all physically stored tokens for an owner,
// newest first. Expired rows are included: validation needs them to
// distinguish an expired token from no token at all.
func (s *SQLiteStorage) ListTokensByOwner(ctx context.Context, ownerID int64) ([]*TokenRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE owner_id = ? ORDER BY issued_at DESC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var tokens []*TokenRecord
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token row: %w", err)
		}
		tokens = append(tokens, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tokens: %w", err)
	}

	if tokens == nil {
		tokens = make([]*TokenRecord, 0)
	}

	return tokens, nil
}

// MarkTokenVerified transitions a token pending -> verified with a
// compare-and-set on the current state. Returns true if this call performed
// the transition, false if the token was not in the pending state.
// Returns ErrNotFound if the id is unknown.
func (s *SQLiteStorage) MarkTokenVerified(ctx context.Context, id string, verifiedAt time.Time, evidenceRef string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tokens SET state = ?, verified_at = ?, evidence_ref = ? WHERE id = ? AND state = ?",
		StateVerified, verifiedAt.Unix(), evidenceRef, id, StatePending)
	if err != nil {
		return false, fmt.Errorf("failed to mark token verified: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return true, nil
	}

	// CAS missed: distinguish unknown id from wrong state
	if _, err := s.GetToken(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// MarkTokenRevoked transitions a token from any non-terminal state to
// revoked. Returns true if this call performed the transition, false if the
// token was already terminal. Returns ErrNotFound if the id is unknown.
func (s *SQLiteStorage) MarkTokenRevoked(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tokens SET state = ? WHERE id = ? AND state IN (?, ?)",
		StateRevoked, id, StatePending, StateVerified)
	if err != nil {
		return false, fmt.Errorf("failed to mark token revoked: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return true, nil
	}

	if _, err := s.GetToken(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// DeleteExpiredTokens physically purges tokens past their expiry.
// This is advisory housekeeping: reads already treat expired rows as
// absent, so correctness never depends on when the purge runs.
func (s *SQLiteStorage) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM tokens WHERE expires_at <= ?", now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return purged, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanToken.
type scanner interface {
	Scan(dest ...any) error
}

func scanToken(row scanner) (*TokenRecord, error) {
	var t TokenRecord
	var issuedAt, expiresAt int64
	var verifiedAt sql.NullInt64

	err := row.Scan(&t.ID, &t.OwnerID, &t.Scope, &t.Class, &t.Tier, &t.Method,
		&t.State, &t.EvidenceRef, &issuedAt, &expiresAt, &verifiedAt)
	if err != nil {
		return nil, err
	}

	t.IssuedAt = time.Unix(issuedAt, 0).UTC()
	t.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if verifiedAt.Valid {
		t.VerifiedAt = time.Unix(verifiedAt.Int64, 0).UTC()
	}

	return &t, nil
}
