package users

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the user does not exist or is out of scope.
	ErrNotFound = errors.New("utilisateur non trouvé")
	// ErrAlreadyAssigned is returned when the role is already active on the user.
	ErrAlreadyAssigned = errors.New("rôle déjà assigné à cet utilisateur")
	// ErrLastRole guards the invariant that every user keeps at least one role.
	ErrLastRole = errors.New("impossible de retirer le dernier rôle d'un utilisateur")
	// ErrForeignOrganization is returned when a role belongs to another tenant.
	ErrForeignOrganization = errors.New("rôle appartenant à une autre organisation")
	// ErrExpiryInPast rejects assignments that would expire immediately.
	ErrExpiryInPast = errors.New("la date d'expiration doit être dans le futur")
)

// User is the account row as admins see it.
type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	OrganizationID int64     `json:"organization_id"`
	RBACEnabled    bool      `json:"rbac_enabled"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// AssignedRole is a role attached to a user, with assignment metadata.
type AssignedRole struct {
	RoleID      int64      `json:"role_id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	AssignedBy  *int64     `json:"assigned_by,omitempty"`
	AssignedAt  time.Time  `json:"assigned_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// EffectivePermissions is the resolved permission view for a user, grouped
// by module for display.
type EffectivePermissions struct {
	UserID      int64               `json:"user_id"`
	RBACEnabled bool                `json:"rbac_enabled"`
	Modules     map[string][]string `json:"modules"`
	Total       int                 `json:"total"`
}
