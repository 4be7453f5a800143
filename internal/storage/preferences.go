package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetDefaultClient returns the actor's durable default client ID, or "" when
// none is set.
func (db *DB) GetDefaultClient(ctx context.Context, slackUserID string) (string, error) {
	var clientID *string
	err := db.pool.QueryRow(ctx,
		`SELECT default_client_id FROM user_preferences WHERE slack_user_id = $1`, slackUserID,
	).Scan(&clientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("storage: get default client: %w", err)
	}
	return deref(clientID), nil
}

// SetDefaultClient stores the actor's default client.
func (db *DB) SetDefaultClient(ctx context.Context, slackUserID, clientID string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO user_preferences (slack_user_id, default_client_id) VALUES ($1, $2)
		 ON CONFLICT (slack_user_id) DO UPDATE SET
		     default_client_id = EXCLUDED.default_client_id, updated_at = now()`,
		slackUserID, clientID)
	if err != nil {
		return fmt.Errorf("storage: set default client: %w", err)
	}
	return nil
}

// ClearDefaults removes every stored preference for the actor.
func (db *DB) ClearDefaults(ctx context.Context, slackUserID string) error {
	if _, err := db.pool.Exec(ctx,
		`DELETE FROM user_preferences WHERE slack_user_id = $1`, slackUserID); err != nil {
		return fmt.Errorf("storage: clear defaults: %w", err)
	}
	return nil
}
