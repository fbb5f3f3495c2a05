package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLite keeps store snapshots in a single key/value table of a local
// SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite constructs the adapter. Call Init before first use.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// Init applies the schema for the state table.
func (s *SQLite) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS client_state (
			state_key TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply state schema: %w", err)
		}
	}
	return nil
}

// Load returns the payload saved under key.
func (s *SQLite) Load(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM client_state WHERE state_key = ?`, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load state %q: %w", key, err)
	}
	return payload, nil
}

// Save upserts the payload for key.
func (s *SQLite) Save(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO client_state(state_key, payload, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(state_key) DO UPDATE SET payload = excluded.payload,
			updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save state %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM client_state WHERE state_key = ?`, key); err != nil {
		return fmt.Errorf("delete state %q: %w", key, err)
	}
	return nil
}
