package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // sqlite driver
)

// SQLiteStorage implements persistence using SQLite.
type SQLiteStorage struct {
	db            *sql.DB
	encryptionKey []byte
}

// New opens (or creates) the database at path, initializes the schema,
// and returns a ready SQLiteStorage. The encryptionKey is used for
// at-rest encryption of bot secrets and must be exactly 32 bytes.
func New(path string, encryptionKey []byte) (*SQLiteStorage, error) {
	if len(encryptionKey) != 32 {
		return nil, ErrInvalidKey
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite serializes writes internally; a single connection
	// avoids SQLITE_BUSY between concurrent writers.
	db.SetMaxOpenConns(1)

	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, encryptionKey: encryptionKey}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
