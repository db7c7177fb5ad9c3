package shared

import (
	"context"
	"fmt"
)

// CrossTenantChecker reports whether a session holds a permission. Satisfied
// by the rbac service; declared here so scoping does not depend on it.
type CrossTenantChecker interface {
	HasPermission(ctx context.Context, sess *Session, name string) bool
}

// Scope restricts queries to one organization. The zero value matches
// nothing useful; obtain scopes through a ScopeResolver so the organization
// id always comes from the session, never from request parameters.
type Scope struct {
	OrgID int64
	All   bool
}

// ScopeResolver derives the tenant scope for a request.
type ScopeResolver struct {
	checker CrossTenantChecker
}

// NewScopeResolver constructs a resolver around a permission checker.
func NewScopeResolver(checker CrossTenantChecker) *ScopeResolver {
	return &ScopeResolver{checker: checker}
}

// ScopeFor returns the scope of the session's user: unrestricted when the
// caller holds organizations.view_all, otherwise bound to the session's
// organization. Fails with ErrNotAuthenticated for anonymous sessions.
func (r *ScopeResolver) ScopeFor(ctx context.Context, sess *Session) (Scope, error) {
	if _, err := CurrentUserID(sess); err != nil {
		return Scope{}, err
	}
	if r.checker != nil && r.checker.HasPermission(ctx, sess, PermOrganizationsViewAll) {
		return Scope{All: true}, nil
	}
	orgID, err := CurrentOrgID(sess)
	if err != nil {
		return Scope{}, err
	}
	return Scope{OrgID: orgID}, nil
}

// Filter returns a SQL predicate fragment and its arguments for the given
// column, starting at placeholder $argPos. Unrestricted scopes return an
// empty fragment.
func (s Scope) Filter(column string, argPos int) (string, []any) {
	if s.All {
		return "", nil
	}
	return fmt.Sprintf(" AND %s = $%d", column, argPos), []any{s.OrgID}
}

// Allows reports whether the scope may touch rows of the given organization.
func (s Scope) Allows(orgID int64) bool {
	return s.All || s.OrgID == orgID
}
