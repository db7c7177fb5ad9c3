package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epicoop/epicoop/internal/shared"
)

const pgUniqueViolation = "23505"

// Repository gives the user admin service its persistence operations.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns the users visible under the given scope, newest first.
func (r *Repository) List(ctx context.Context, scope shared.Scope) ([]User, error) {
	query := `SELECT id, username, email, role, organization_id, rbac_enabled, is_active, created_at
	          FROM users WHERE 1=1`
	filter, args := scope.Filter("organization_id", 1)
	query += filter + ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.OrganizationID,
			&u.RBACEnabled, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("users: scan: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// FindByID returns one user within scope, or ErrNotFound. Out-of-scope users
// are indistinguishable from absent ones.
func (r *Repository) FindByID(ctx context.Context, id int64, scope shared.Scope) (User, error) {
	query := `SELECT id, username, email, role, organization_id, rbac_enabled, is_active, created_at
	          FROM users WHERE id = $1`
	args := []any{id}
	filter, scopeArgs := scope.Filter("organization_id", 2)
	query += filter
	args = append(args, scopeArgs...)

	var u User
	err := r.pool.QueryRow(ctx, query, args...).Scan(&u.ID, &u.Username, &u.Email, &u.Role,
		&u.OrganizationID, &u.RBACEnabled, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: find %d: %w", id, err)
	}
	return u, nil
}

// RolesOf lists the active role assignments of a user.
func (r *Repository) RolesOf(ctx context.Context, userID int64) ([]AssignedRole, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.name, r.display_name, ur.assigned_by, ur.assigned_at, ur.expires_at, COALESCE(ur.reason, '')
		 FROM user_roles ur
		 JOIN roles r ON r.id = ur.role_id
		 WHERE ur.user_id = $1 AND ur.is_active = TRUE
		 ORDER BY ur.assigned_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("users: roles of %d: %w", userID, err)
	}
	defer rows.Close()

	var roles []AssignedRole
	for rows.Next() {
		var ar AssignedRole
		if err := rows.Scan(&ar.RoleID, &ar.Name, &ar.DisplayName, &ar.AssignedBy,
			&ar.AssignedAt, &ar.ExpiresAt, &ar.Reason); err != nil {
			return nil, fmt.Errorf("users: scan role: %w", err)
		}
		roles = append(roles, ar)
	}
	return roles, rows.Err()
}

// RoleOrganization returns the owning organization of a role, nil for
// system roles. ErrNotFound when the role does not exist or is inactive.
func (r *Repository) RoleOrganization(ctx context.Context, roleID int64) (*int64, error) {
	var orgID *int64
	err := r.pool.QueryRow(ctx,
		`SELECT organization_id FROM roles WHERE id = $1 AND is_active = TRUE`, roleID,
	).Scan(&orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: role org %d: %w", roleID, err)
	}
	return orgID, nil
}

// CountActiveRoles counts a user's active, unexpired role assignments.
func (r *Repository) CountActiveRoles(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_roles
		 WHERE user_id = $1 AND is_active = TRUE
		   AND (expires_at IS NULL OR expires_at > NOW())`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("users: count roles %d: %w", userID, err)
	}
	return count, nil
}

// InsertRole attaches a role to a user. Re-assigning an already active role
// returns ErrAlreadyAssigned.
func (r *Repository) InsertRole(ctx context.Context, userID, roleID int64, assignedBy int64, expiresAt *time.Time, reason string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at, expires_at, reason, is_active)
		 VALUES ($1, $2, $3, NOW(), $4, NULLIF($5, ''), TRUE)`,
		userID, roleID, assignedBy, expiresAt, reason,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrAlreadyAssigned
	}
	if err != nil {
		return fmt.Errorf("users: assign role %d to %d: %w", roleID, userID, err)
	}
	return nil
}

// DeleteRole detaches a role from a user. ErrNotFound when no active
// assignment existed.
func (r *Repository) DeleteRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`,
		userID, roleID,
	)
	if err != nil {
		return fmt.Errorf("users: remove role %d from %d: %w", roleID, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRBACEnabled flips the per-user RBAC participation flag.
func (r *Repository) SetRBACEnabled(ctx context.Context, userID int64, enabled bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET rbac_enabled = $2, updated_at = NOW() WHERE id = $1`,
		userID, enabled,
	)
	if err != nil {
		return fmt.Errorf("users: set rbac %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PermissionModules maps permission names to their module, for grouping the
// effective permission view.
func (r *Repository) PermissionModules(ctx context.Context, names []string) (map[string]string, error) {
	if len(names) == 0 {
		return map[string]string{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT name, module FROM permissions WHERE name = ANY($1)`, names,
	)
	if err != nil {
		return nil, fmt.Errorf("users: permission modules: %w", err)
	}
	defer rows.Close()

	modules := make(map[string]string, len(names))
	for rows.Next() {
		var name, module string
		if err := rows.Scan(&name, &module); err != nil {
			return nil, fmt.Errorf("users: scan module: %w", err)
		}
		modules[name] = module
	}
	return modules, rows.Err()
}
