package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/tasklane/internal/model"
)

// UpsertSpace records a space seen during registry sync. Only the fields the
// ClickUp API owns are written; classification, brand_id and active belong
// to operators and survive every sync.
func (db *DB) UpsertSpace(ctx context.Context, s model.Space, seenAt time.Time) error {
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO clickup_spaces (space_id, team_id, name, last_seen_at, last_synced_at)
			 VALUES ($1, $2, $3, $4, $4)
			 ON CONFLICT (space_id) DO UPDATE SET
			     team_id = EXCLUDED.team_id,
			     name = EXCLUDED.name,
			     last_seen_at = EXCLUDED.last_seen_at,
			     last_synced_at = EXCLUDED.last_synced_at`,
			s.SpaceID, s.TeamID, s.Name, seenAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: upsert space %s: %w", s.SpaceID, err)
	}
	return nil
}

// ClassifySpace sets the operator-owned fields of one space.
func (db *DB) ClassifySpace(ctx context.Context, spaceID, classification, brandID string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE clickup_spaces SET classification = $2, brand_id = $3 WHERE space_id = $1`,
		spaceID, nullable(classification), nullable(brandID))
	if err != nil {
		return fmt.Errorf("storage: classify space: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: space %s: %w", spaceID, ErrNotFound)
	}
	return nil
}

// ListSpaces returns every registered space ordered by name.
func (db *DB) ListSpaces(ctx context.Context) ([]model.Space, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT space_id, team_id, name, classification, brand_id, active, last_seen_at, last_synced_at
		 FROM clickup_spaces ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list spaces: %w", err)
	}
	spaces, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Space, error) {
		var (
			s               model.Space
			class, brandRef *string
		)
		err := row.Scan(&s.SpaceID, &s.TeamID, &s.Name, &class, &brandRef, &s.Active, &s.LastSeenAt, &s.LastSyncedAt)
		s.Classification = deref(class)
		s.BrandID = deref(brandRef)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list spaces: %w", err)
	}
	return spaces, nil
}
