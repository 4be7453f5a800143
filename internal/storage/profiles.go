package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/tasklane/internal/identity"
	"github.com/ashita-ai/tasklane/internal/model"
)

const profileColumns = `id, name, email, slack_user_id, clickup_user_id, role, is_admin`

// ListProfiles returns every profile ordered by name.
func (db *DB) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list profiles: %w", err)
	}
	profiles, err := pgx.CollectRows(rows, scanProfile)
	if err != nil {
		return nil, fmt.Errorf("storage: list profiles: %w", err)
	}
	return profiles, nil
}

// GetProfileBySlackID returns the profile linked to a Slack user.
func (db *DB) GetProfileBySlackID(ctx context.Context, slackUserID string) (model.Profile, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE slack_user_id = $1`, slackUserID)
	if err != nil {
		return model.Profile{}, fmt.Errorf("storage: get profile: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProfile)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Profile{}, fmt.Errorf("storage: profile for %s: %w", slackUserID, ErrNotFound)
	}
	if err != nil {
		return model.Profile{}, fmt.Errorf("storage: get profile: %w", err)
	}
	return p, nil
}

// FindProfiles matches a name or email hint, case-insensitively.
func (db *DB) FindProfiles(ctx context.Context, hint string) ([]model.Profile, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM profiles
		 WHERE lower(name) = lower($1) OR lower(email) = lower($1)
		    OR strpos(lower(name), lower($1)) > 0
		 ORDER BY (lower(name) = lower($1) OR lower(email) = lower($1)) DESC, name
		 LIMIT 10`, hint)
	if err != nil {
		return nil, fmt.Errorf("storage: find profiles: %w", err)
	}
	profiles, err := pgx.CollectRows(rows, scanProfile)
	if err != nil {
		return nil, fmt.Errorf("storage: find profiles: %w", err)
	}
	return profiles, nil
}

// InsertProfile creates a profile.
func (db *DB) InsertProfile(ctx context.Context, p model.Profile) error {
	role := p.Role
	if role == "" {
		role = model.RoleMember
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO profiles (id, name, email, slack_user_id, clickup_user_id, role, is_admin)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, nullable(p.Email), nullable(p.SlackUserID), nullable(p.ClickUpUserID),
		string(role), p.IsAdmin)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("storage: insert profile %s: %w", p.ID, ErrConflict)
		}
		return fmt.Errorf("storage: insert profile: %w", err)
	}
	return nil
}

// UpdateProfileIdentity fills identity fields on a profile. Empty fields in
// upd are ignored, so an update can only add links and never clears one.
func (db *DB) UpdateProfileIdentity(ctx context.Context, profileID string, upd identity.Update) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE profiles SET
		     email = COALESCE($2, email),
		     slack_user_id = COALESCE($3, slack_user_id),
		     clickup_user_id = COALESCE($4, clickup_user_id),
		     updated_at = now()
		 WHERE id = $1`,
		profileID, nullable(upd.Email), nullable(upd.SlackUserID), nullable(upd.ClickUpUserID))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("storage: update profile identity %s: %w", profileID, ErrConflict)
		}
		return fmt.Errorf("storage: update profile identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: profile %s: %w", profileID, ErrNotFound)
	}
	return nil
}

func scanProfile(row pgx.CollectableRow) (model.Profile, error) {
	var (
		p                    model.Profile
		email, slack, clicku *string
		role                 string
	)
	if err := row.Scan(&p.ID, &p.Name, &email, &slack, &clicku, &role, &p.IsAdmin); err != nil {
		return model.Profile{}, err
	}
	p.Email, p.SlackUserID, p.ClickUpUserID = deref(email), deref(slack), deref(clicku)
	p.Role = model.ActorRole(role)
	return p, nil
}
