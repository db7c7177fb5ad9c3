package rbac

import (
	"sort"
	"time"
)

// Role is a named bundle of permissions. System roles are globally defined
// and read-only to tenants; tenant roles carry an organization id.
type Role struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	DisplayName    string    `json:"display_name"`
	Description    string    `json:"description,omitempty"`
	IsSystem       bool      `json:"is_system"`
	OrganizationID *int64    `json:"organization_id,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Permission is an atomic capability identified by a stable dotted name,
// grouped by module. Permissions are seed data.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Module      string `json:"module"`
	IsActive    bool   `json:"is_active"`
}

// UserRole links a user to a role, optionally time-boxed.
type UserRole struct {
	UserID     int64
	RoleID     int64
	AssignedBy *int64
	AssignedAt time.Time
	ExpiresAt  *time.Time
	Reason     string
}

// Active reports whether the grant contributes permissions at the given
// instant. Grants without an expiry never lapse.
func (ur UserRole) Active(now time.Time) bool {
	return ur.ExpiresAt == nil || ur.ExpiresAt.After(now)
}

// PermissionSet is the effective set of permission names for one user.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from names.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Has reports exact-name membership. No wildcard or hierarchy semantics:
// "users" grants nothing about "users.view".
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the sorted permission names.
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
