package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/tasklane/internal/model"
)

const brandColumns = `id, client_id, name, clickup_space_id, clickup_list_id`

// ListBrands returns a client's brands ordered by name.
func (db *DB) ListBrands(ctx context.Context, clientID string) ([]model.Brand, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+brandColumns+` FROM brands WHERE client_id = $1 ORDER BY name`, clientID)
	if err != nil {
		return nil, fmt.Errorf("storage: list brands: %w", err)
	}
	brands, err := pgx.CollectRows(rows, scanBrand)
	if err != nil {
		return nil, fmt.Errorf("storage: list brands: %w", err)
	}
	return brands, nil
}

// ListAllBrands returns every brand across clients, for mapping audits.
func (db *DB) ListAllBrands(ctx context.Context) ([]model.Brand, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+brandColumns+` FROM brands ORDER BY client_id, name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list all brands: %w", err)
	}
	brands, err := pgx.CollectRows(rows, scanBrand)
	if err != nil {
		return nil, fmt.Errorf("storage: list all brands: %w", err)
	}
	return brands, nil
}

// GetBrand returns one brand scoped to its client.
func (db *DB) GetBrand(ctx context.Context, clientID, brandID string) (model.Brand, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+brandColumns+` FROM brands WHERE client_id = $1 AND id = $2`, clientID, brandID)
	if err != nil {
		return model.Brand{}, fmt.Errorf("storage: get brand: %w", err)
	}
	b, err := pgx.CollectExactlyOneRow(rows, scanBrand)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Brand{}, fmt.Errorf("storage: brand %s: %w", brandID, ErrNotFound)
	}
	if err != nil {
		return model.Brand{}, fmt.Errorf("storage: get brand: %w", err)
	}
	return b, nil
}

// CreateBrand inserts a brand under its client. An empty ID is generated.
func (db *DB) CreateBrand(ctx context.Context, b model.Brand) (model.Brand, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO brands (id, client_id, name, clickup_space_id, clickup_list_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.ClientID, b.Name, nullable(b.SpaceID), nullable(b.ListID))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Brand{}, fmt.Errorf("storage: create brand %q: %w", b.Name, ErrConflict)
		}
		return model.Brand{}, fmt.Errorf("storage: create brand: %w", err)
	}
	return b, nil
}

// RenameBrand changes a brand's name within its client.
func (db *DB) RenameBrand(ctx context.Context, clientID, brandID, name string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE brands SET name = $3, updated_at = now() WHERE client_id = $1 AND id = $2`,
		clientID, brandID, name)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("storage: rename brand %q: %w", name, ErrConflict)
		}
		return fmt.Errorf("storage: rename brand: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: brand %s: %w", brandID, ErrNotFound)
	}
	return nil
}

// UpdateBrandDestination sets a brand's ClickUp space and list. The update is
// scoped to clientID so one client's remediation can never touch another's
// brands. Empty values clear the column.
func (db *DB) UpdateBrandDestination(ctx context.Context, clientID, brandID, spaceID, listID string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE brands SET clickup_space_id = $3, clickup_list_id = $4, updated_at = now()
		 WHERE client_id = $1 AND id = $2`,
		clientID, brandID, nullable(spaceID), nullable(listID))
	if err != nil {
		return fmt.Errorf("storage: update brand destination: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: brand %s: %w", brandID, ErrNotFound)
	}
	return nil
}

func scanBrand(row pgx.CollectableRow) (model.Brand, error) {
	var (
		b              model.Brand
		space, listCol *string
	)
	if err := row.Scan(&b.ID, &b.ClientID, &b.Name, &space, &listCol); err != nil {
		return model.Brand{}, err
	}
	b.SpaceID = deref(space)
	b.ListID = deref(listCol)
	return b, nil
}
