package storage

import (
	"context"
	"fmt"
)

// MarkInteraction records that (slackUserID, action, messageTS) was handled.
// It returns true the first time and false for every redelivery, so callers
// can drop duplicate Slack events and button clicks.
func (db *DB) MarkInteraction(ctx context.Context, slackUserID, action, messageTS string) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO interaction_markers (slack_user_id, action, message_ts)
		 VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		slackUserID, action, messageTS)
	if err != nil {
		return false, fmt.Errorf("storage: mark interaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
