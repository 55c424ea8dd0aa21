package storage

import (
	"context"
	"fmt"
)

// Ping verifies database connectivity with a lightweight query.
// Used by the /ready endpoint to check the database without scanning tables.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	var result int
	err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if result != 1 {
		return fmt.Errorf("database ping returned unexpected result: %d", result)
	}

	return nil
}
