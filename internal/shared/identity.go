package shared

import "fmt"

// RoleSuperAdmin is the legacy role string that bypasses RBAC entirely.
// It exists for accounts created before the permission system and is
// consulted alongside organizations.view_all during the migration.
const RoleSuperAdmin = "SuperAdmin"

// UserSnapshot captures the identity fields a session carries for one user.
type UserSnapshot struct {
	UserID         int64  `json:"user_id"`
	OrganizationID int64  `json:"organization_id"`
	Username       string `json:"username"`
	Role           string `json:"role"`
	RBACEnabled    bool   `json:"rbac_enabled"`
}

// Identity is the acting identity of a session: either the user who logged
// in, or an administrator acting as somebody else. All permission checks
// operate on ActingAs; audit records include Original when set.
type Identity struct {
	ActingAs UserSnapshot  `json:"acting_as"`
	Original *UserSnapshot `json:"original_user,omitempty"`
}

// DirectIdentity builds the identity of a user acting as themselves.
func DirectIdentity(user UserSnapshot) Identity {
	return Identity{ActingAs: user}
}

// ImpersonatedIdentity builds the identity of an administrator acting as
// another user. The original snapshot is what Stop restores.
func ImpersonatedIdentity(actingAs, original UserSnapshot) Identity {
	orig := original
	return Identity{ActingAs: actingAs, Original: &orig}
}

// Impersonating reports whether the identity carries an original user.
func (id Identity) Impersonating() bool {
	return id.Original != nil
}

// CurrentUserID returns the acting user id or fails with
// ErrNotAuthenticated when the session carries no identity.
func CurrentUserID(sess *Session) (int64, error) {
	id := identityOf(sess)
	if id == nil || id.ActingAs.UserID == 0 {
		return 0, fmt.Errorf("%w: utilisateur non authentifié", ErrNotAuthenticated)
	}
	return id.ActingAs.UserID, nil
}

// CurrentOrgID returns the acting user's organization id. Fails when the
// session is anonymous or the organization is unset.
func CurrentOrgID(sess *Session) (int64, error) {
	id := identityOf(sess)
	if id == nil || id.ActingAs.UserID == 0 {
		return 0, fmt.Errorf("%w: utilisateur non authentifié", ErrNotAuthenticated)
	}
	if id.ActingAs.OrganizationID == 0 {
		return 0, fmt.Errorf("%w: organisation non définie pour cet utilisateur", ErrNotAuthenticated)
	}
	return id.ActingAs.OrganizationID, nil
}

// CurrentRole returns the acting user's legacy role string.
func CurrentRole(sess *Session) (string, error) {
	id := identityOf(sess)
	if id == nil || id.ActingAs.Role == "" {
		return "", fmt.Errorf("%w: rôle utilisateur non défini", ErrNotAuthenticated)
	}
	return id.ActingAs.Role, nil
}

// CurrentUsername returns the acting user's username.
func CurrentUsername(sess *Session) (string, error) {
	id := identityOf(sess)
	if id == nil || id.ActingAs.Username == "" {
		return "", fmt.Errorf("%w: nom d'utilisateur non défini", ErrNotAuthenticated)
	}
	return id.ActingAs.Username, nil
}

// RBACEnabled reports whether the acting user participates in RBAC.
// Anonymous sessions report false rather than failing; middleware treats
// the two cases separately via CurrentUserID.
func RBACEnabled(sess *Session) bool {
	id := identityOf(sess)
	return id != nil && id.ActingAs.RBACEnabled
}

// IsImpersonating reports whether the session is acting as another user.
// Unlike the accessors above it never fails: impersonation is optional state.
func IsImpersonating(sess *Session) bool {
	id := identityOf(sess)
	return id != nil && id.Impersonating()
}

// OriginalUser returns the pre-impersonation snapshot, or nil.
func OriginalUser(sess *Session) *UserSnapshot {
	id := identityOf(sess)
	if id == nil || id.Original == nil {
		return nil
	}
	orig := *id.Original
	return &orig
}

func identityOf(sess *Session) *Identity {
	if sess == nil {
		return nil
	}
	return sess.Identity()
}
