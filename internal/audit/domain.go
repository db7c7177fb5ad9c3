package audit

import "time"

// Event types recorded in the permission audit log.
const (
	EventPermissionDenied       = "permission_check_denied"
	EventRoleAssigned           = "role_assigned"
	EventRoleRemoved            = "role_removed"
	EventRolePermissionsUpdated = "role_permissions_updated"
	EventImpersonationStarted   = "impersonation_started"
	EventImpersonationStopped   = "impersonation_stopped"
	EventRBACToggled            = "rbac_toggled"
)

// Entry is one row of the permission audit log. ActorID differs from UserID
// when the action was performed while impersonating: UserID is the account
// the action applied to, ActorID the administrator behind it.
type Entry struct {
	ID             int64     `json:"id"`
	EventType      string    `json:"event_type"`
	UserID         *int64    `json:"user_id,omitempty"`
	ActorID        *int64    `json:"actor_id,omitempty"`
	PermissionName *string   `json:"permission_name,omitempty"`
	RoleID         *int64    `json:"role_id,omitempty"`
	Result         string    `json:"result"`
	IPAddress      *string   `json:"ip_address,omitempty"`
	Details        *string   `json:"details,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Results stored alongside an entry.
const (
	ResultDenied  = "denied"
	ResultGranted = "granted"
	ResultApplied = "applied"
)
