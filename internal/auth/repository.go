package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, username, password_hash, role, organization_id, rbac_enabled, is_active, created_at`

// Repository loads accounts for authentication and impersonation.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Role,
		&a.OrganizationID, &a.RBACEnabled, &a.IsActive, &a.CreatedAt)
	return a, err
}

// FindByUsername returns the account for a username, or
// ErrInvalidCredentials when absent.
func (r *Repository) FindByUsername(ctx context.Context, username string) (Account, error) {
	account, err := scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM users WHERE username = $1`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, fmt.Errorf("auth: find by username: %w", err)
	}
	return account, nil
}

// FindByID returns the account for a user id, or ErrInvalidCredentials.
func (r *Repository) FindByID(ctx context.Context, id int64) (Account, error) {
	account, err := scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, fmt.Errorf("auth: find by id %d: %w", id, err)
	}
	return account, nil
}
