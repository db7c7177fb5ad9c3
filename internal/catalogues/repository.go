package catalogues

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epicoop/epicoop/internal/shared"
)

// Repository persists catalogues and their products.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns the catalogues visible under the scope, newest first.
// Archived catalogues are included; the UI greys them out.
func (r *Repository) List(ctx context.Context, scope shared.Scope) ([]Catalogue, error) {
	query := `SELECT id, organization_id, name, COALESCE(season, ''), is_archived, created_at, updated_at
	          FROM catalogues WHERE 1=1`
	filter, args := scope.Filter("organization_id", 1)
	query += filter + ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalogues: list: %w", err)
	}
	defer rows.Close()

	var catalogues []Catalogue
	for rows.Next() {
		var c Catalogue
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Season,
			&c.IsArchived, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("catalogues: scan: %w", err)
		}
		catalogues = append(catalogues, c)
	}
	return catalogues, rows.Err()
}

// FindByID returns one catalogue within scope, or ErrNotFound.
func (r *Repository) FindByID(ctx context.Context, id int64, scope shared.Scope) (Catalogue, error) {
	query := `SELECT id, organization_id, name, COALESCE(season, ''), is_archived, created_at, updated_at
	          FROM catalogues WHERE id = $1`
	args := []any{id}
	filter, scopeArgs := scope.Filter("organization_id", 2)
	query += filter
	args = append(args, scopeArgs...)

	var c Catalogue
	err := r.pool.QueryRow(ctx, query, args...).Scan(&c.ID, &c.OrganizationID, &c.Name,
		&c.Season, &c.IsArchived, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Catalogue{}, ErrNotFound
	}
	if err != nil {
		return Catalogue{}, fmt.Errorf("catalogues: find %d: %w", id, err)
	}
	return c, nil
}

// Create inserts a catalogue for the organization.
func (r *Repository) Create(ctx context.Context, orgID int64, name, season string) (Catalogue, error) {
	var c Catalogue
	err := r.pool.QueryRow(ctx,
		`INSERT INTO catalogues (organization_id, name, season, is_archived, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), FALSE, NOW(), NOW())
		 RETURNING id, organization_id, name, COALESCE(season, ''), is_archived, created_at, updated_at`,
		orgID, name, season,
	).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Season, &c.IsArchived, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Catalogue{}, fmt.Errorf("catalogues: create %s: %w", name, err)
	}
	return c, nil
}

// SetArchived flips the archived flag.
func (r *Repository) SetArchived(ctx context.Context, id int64, archived bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE catalogues SET is_archived = $2, updated_at = NOW() WHERE id = $1`,
		id, archived,
	)
	if err != nil {
		return fmt.Errorf("catalogues: archive %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ProductsOf lists the products of a catalogue. Ordering is done in the
// service so product names collate correctly in French.
func (r *Repository) ProductsOf(ctx context.Context, catalogueID int64) ([]Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, catalogue_id, name, unit, price_cents, is_available, created_at
		 FROM products WHERE catalogue_id = $1`,
		catalogueID,
	)
	if err != nil {
		return nil, fmt.Errorf("catalogues: products of %d: %w", catalogueID, err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.CatalogueID, &p.Name, &p.Unit,
			&p.PriceCents, &p.IsAvailable, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalogues: scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// AddProduct inserts a product into a catalogue.
func (r *Repository) AddProduct(ctx context.Context, catalogueID int64, name, unit string, priceCents int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (catalogue_id, name, unit, price_cents, is_available, created_at)
		 VALUES ($1, $2, $3, $4, TRUE, NOW())
		 RETURNING id, catalogue_id, name, unit, price_cents, is_available, created_at`,
		catalogueID, name, unit, priceCents,
	).Scan(&p.ID, &p.CatalogueID, &p.Name, &p.Unit, &p.PriceCents, &p.IsAvailable, &p.CreatedAt)
	if err != nil {
		return Product{}, fmt.Errorf("catalogues: add product %s: %w", name, err)
	}
	return p, nil
}
