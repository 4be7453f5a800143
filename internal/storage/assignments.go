package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/tasklane/internal/model"
)

// ListAssignments returns a client's team assignments with profile names.
func (db *DB) ListAssignments(ctx context.Context, clientID string) ([]model.Assignment, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT a.client_id, a.profile_id, p.name, a.role
		 FROM client_assignments a JOIN profiles p ON p.id = a.profile_id
		 WHERE a.client_id = $1
		 ORDER BY a.role, p.name`, clientID)
	if err != nil {
		return nil, fmt.Errorf("storage: list assignments: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Assignment, error) {
		var a model.Assignment
		err := row.Scan(&a.ClientID, &a.ProfileID, &a.ProfileName, &a.Role)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list assignments: %w", err)
	}
	return out, nil
}

// UpsertAssignment links a profile to a client in a role. It reports whether
// a new row was written.
func (db *DB) UpsertAssignment(ctx context.Context, a model.Assignment) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO client_assignments (client_id, profile_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		a.ClientID, a.ProfileID, a.Role)
	if err != nil {
		return false, fmt.Errorf("storage: upsert assignment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RemoveAssignment unlinks a profile from a client role. It reports whether a
// row was removed.
func (db *DB) RemoveAssignment(ctx context.Context, a model.Assignment) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM client_assignments WHERE client_id = $1 AND profile_id = $2 AND role = $3`,
		a.ClientID, a.ProfileID, a.Role)
	if err != nil {
		return false, fmt.Errorf("storage: remove assignment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
