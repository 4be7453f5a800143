package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetSession returns the stored session document, or (nil, nil) when the key
// has never been saved.
func (db *DB) GetSession(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := db.pool.QueryRow(ctx,
		`SELECT data FROM conversation_sessions WHERE session_key = $1`, key,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get session: %w", err)
	}
	return data, nil
}

// SaveSession replaces the session document stored under key.
func (db *DB) SaveSession(ctx context.Context, key string, data []byte) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO conversation_sessions (session_key, data, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (session_key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		key, data)
	if err != nil {
		return fmt.Errorf("storage: save session: %w", err)
	}
	return nil
}
