package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epicoop/epicoop/internal/rbac"
	"github.com/epicoop/epicoop/internal/shared"
)

const pgUniqueViolation = "23505"

const roleColumns = `id, name, display_name, COALESCE(description, ''), is_system, organization_id, is_active, created_at, updated_at`

// Repository persists roles and their permission attachments.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRole(row pgx.Row) (rbac.Role, error) {
	var role rbac.Role
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description,
		&role.IsSystem, &role.OrganizationID, &role.IsActive, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

// List returns system roles plus the roles of the scoped organization.
// Unrestricted scopes see every role.
func (r *Repository) List(ctx context.Context, scope shared.Scope) ([]rbac.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles`
	var args []any
	if !scope.All {
		query += ` WHERE organization_id IS NULL OR organization_id = $1`
		args = append(args, scope.OrgID)
	}
	query += ` ORDER BY is_system DESC, name`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("roles: scan: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// FindByID returns one role, or ErrNotFound.
func (r *Repository) FindByID(ctx context.Context, id int64) (rbac.Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Role{}, ErrNotFound
	}
	if err != nil {
		return rbac.Role{}, fmt.Errorf("roles: find %d: %w", id, err)
	}
	return role, nil
}

// Create inserts a tenant role and returns it. A taken name yields
// ErrDuplicateName.
func (r *Repository) Create(ctx context.Context, name, displayName, description string, orgID *int64) (rbac.Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, display_name, description, is_system, organization_id, is_active, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, TRUE, NOW(), NOW())
		 RETURNING `+roleColumns,
		name, displayName, description, orgID == nil, orgID,
	))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return rbac.Role{}, ErrDuplicateName
	}
	if err != nil {
		return rbac.Role{}, fmt.Errorf("roles: create %s: %w", name, err)
	}
	return role, nil
}

// Update rewrites the mutable fields of a role.
func (r *Repository) Update(ctx context.Context, id int64, name, displayName, description string, isActive bool) (rbac.Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx,
		`UPDATE roles
		 SET name = $2, display_name = $3, description = NULLIF($4, ''), is_active = $5, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+roleColumns,
		id, name, displayName, description, isActive,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Role{}, ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return rbac.Role{}, ErrDuplicateName
	}
	if err != nil {
		return rbac.Role{}, fmt.Errorf("roles: update %d: %w", id, err)
	}
	return role, nil
}

// Delete removes a role and its permission attachments.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("roles: delete %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountAssignments counts active user assignments of a role.
func (r *Repository) CountAssignments(ctx context.Context, roleID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_roles WHERE role_id = $1 AND is_active = TRUE`, roleID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("roles: count assignments %d: %w", roleID, err)
	}
	return count, nil
}

// UsersWithRole returns the ids of users holding the role, for cache
// invalidation after permission changes.
func (r *Repository) UsersWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM user_roles WHERE role_id = $1 AND is_active = TRUE`, roleID,
	)
	if err != nil {
		return nil, fmt.Errorf("roles: users with %d: %w", roleID, err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("roles: scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

// PermissionsOf lists the active permissions attached to a role.
func (r *Repository) PermissionsOf(ctx context.Context, roleID int64) ([]rbac.Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.name, p.display_name, p.module, p.is_active
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = $1 AND p.is_active = TRUE
		 ORDER BY p.module, p.name`,
		roleID,
	)
	if err != nil {
		return nil, fmt.Errorf("roles: permissions of %d: %w", roleID, err)
	}
	defer rows.Close()

	var perms []rbac.Permission
	for rows.Next() {
		var p rbac.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Module, &p.IsActive); err != nil {
			return nil, fmt.Errorf("roles: scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// SetPermissions replaces the role's permission attachments with exactly the
// given ids, attaching and detaching the difference in one transaction.
func (r *Repository) SetPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("roles: begin set permissions: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id != ALL($2)`,
		roleID, permissionIDs,
	); err != nil {
		return fmt.Errorf("roles: detach permissions: %w", err)
	}
	for _, permID := range permissionIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO role_permissions (role_id, permission_id)
			 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			roleID, permID,
		); err != nil {
			return fmt.Errorf("roles: attach permission %d: %w", permID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("roles: commit set permissions: %w", err)
	}
	return nil
}
