package rbac

import (
	"context"
	"log/slog"

	"github.com/epicoop/epicoop/internal/shared"
)

// Resolver yields the effective permission set for a user. *Store is the
// production implementation.
type Resolver interface {
	GetUserPermissions(ctx context.Context, userID int64) PermissionSet
	ClearUserPermissionCache(ctx context.Context, userID int64)
	ClearAllPermissionCaches(ctx context.Context)
}

// Service exposes the authorization predicates built on the permission
// store. All predicates are total: they report false rather than failing.
type Service struct {
	resolver Resolver
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(resolver Resolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{resolver: resolver, logger: logger}
}

// Resolver exposes the underlying store for invalidation by admin services.
func (s *Service) Resolver() Resolver {
	return s.resolver
}

// HasPermission reports whether the session's acting user holds the named
// permission. Legacy SuperAdmin accounts and organizations.view_all holders
// pass regardless of their RBAC flag; for everyone else a disabled flag
// denies outright.
func (s *Service) HasPermission(ctx context.Context, sess *shared.Session, name string) bool {
	userID, err := shared.CurrentUserID(sess)
	if err != nil {
		return false
	}

	if role, err := shared.CurrentRole(sess); err == nil && role == shared.RoleSuperAdmin {
		return true
	}

	perms := s.resolver.GetUserPermissions(ctx, userID)
	if perms.Has(shared.PermOrganizationsViewAll) {
		return true
	}

	if !shared.RBACEnabled(sess) {
		return false
	}
	return perms.Has(name)
}

// HasAnyPermission reports whether the acting user holds at least one of
// the named permissions. An empty list is never satisfied.
func (s *Service) HasAnyPermission(ctx context.Context, sess *shared.Session, names []string) bool {
	userID, err := shared.CurrentUserID(sess)
	if err != nil {
		return false
	}
	if !shared.RBACEnabled(sess) {
		return false
	}
	if len(names) == 0 {
		return false
	}
	perms := s.resolver.GetUserPermissions(ctx, userID)
	for _, name := range names {
		if perms.Has(name) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether the acting user holds every named
// permission. An empty list is vacuously satisfied.
func (s *Service) HasAllPermissions(ctx context.Context, sess *shared.Session, names []string) bool {
	userID, err := shared.CurrentUserID(sess)
	if err != nil {
		return false
	}
	if !shared.RBACEnabled(sess) {
		return false
	}
	perms := s.resolver.GetUserPermissions(ctx, userID)
	for _, name := range names {
		if !perms.Has(name) {
			return false
		}
	}
	return true
}

// IsSuperAdmin is the single bridge predicate between the legacy role
// system and RBAC: the legacy SuperAdmin role or the cross-tenant
// permission both qualify.
func (s *Service) IsSuperAdmin(ctx context.Context, sess *shared.Session) bool {
	userID, err := shared.CurrentUserID(sess)
	if err != nil {
		return false
	}
	if role, err := shared.CurrentRole(sess); err == nil && role == shared.RoleSuperAdmin {
		return true
	}
	return s.resolver.GetUserPermissions(ctx, userID).Has(shared.PermOrganizationsViewAll)
}
