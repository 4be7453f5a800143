package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/tasklane/internal/model"
)

// GetClient returns a client by ID.
func (db *DB) GetClient(ctx context.Context, id string) (model.Client, error) {
	var c model.Client
	err := db.pool.QueryRow(ctx,
		`SELECT id, name FROM clients WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Client{}, fmt.Errorf("storage: client %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Client{}, fmt.Errorf("storage: get client: %w", err)
	}
	return c, nil
}

// FindClients matches a user-supplied hint against client names. An exact
// case-insensitive match wins outright; otherwise every client whose name
// contains the hint is returned, shortest name first.
func (db *DB) FindClients(ctx context.Context, hint string) ([]model.Client, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, name FROM clients
		 WHERE lower(name) = lower($1) OR strpos(lower(name), lower($1)) > 0
		 ORDER BY (lower(name) = lower($1)) DESC, length(name), name
		 LIMIT 10`, hint)
	if err != nil {
		return nil, fmt.Errorf("storage: find clients: %w", err)
	}
	clients, err := pgx.CollectRows(rows, scanClient)
	if err != nil {
		return nil, fmt.Errorf("storage: find clients: %w", err)
	}
	if len(clients) > 0 && strings.EqualFold(clients[0].Name, hint) {
		return clients[:1], nil
	}
	return clients, nil
}

// ListClients returns every client ordered by name.
func (db *DB) ListClients(ctx context.Context) ([]model.Client, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, name FROM clients ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list clients: %w", err)
	}
	clients, err := pgx.CollectRows(rows, scanClient)
	if err != nil {
		return nil, fmt.Errorf("storage: list clients: %w", err)
	}
	return clients, nil
}

// UpsertClient creates or renames a client.
func (db *DB) UpsertClient(ctx context.Context, c model.Client) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO clients (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		c.ID, c.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("storage: upsert client %q: %w", c.Name, ErrConflict)
		}
		return fmt.Errorf("storage: upsert client: %w", err)
	}
	return nil
}

func scanClient(row pgx.CollectableRow) (model.Client, error) {
	var c model.Client
	err := row.Scan(&c.ID, &c.Name)
	return c, err
}
