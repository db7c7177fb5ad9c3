package roles

import (
	"context"
	"log/slog"

	"github.com/epicoop/epicoop/internal/audit"
	"github.com/epicoop/epicoop/internal/rbac"
	"github.com/epicoop/epicoop/internal/shared"
)

// Store is the persistence surface the service needs.
type Store interface {
	List(ctx context.Context, scope shared.Scope) ([]rbac.Role, error)
	FindByID(ctx context.Context, id int64) (rbac.Role, error)
	Create(ctx context.Context, name, displayName, description string, orgID *int64) (rbac.Role, error)
	Update(ctx context.Context, id int64, name, displayName, description string, isActive bool) (rbac.Role, error)
	Delete(ctx context.Context, id int64) error
	CountAssignments(ctx context.Context, roleID int64) (int, error)
	UsersWithRole(ctx context.Context, roleID int64) ([]int64, error)
	PermissionsOf(ctx context.Context, roleID int64) ([]rbac.Permission, error)
	SetPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
}

// AuditLog records role administration events.
type AuditLog interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service implements role administration. Tenant roles are visible and
// mutable only within their organization; system roles are visible to all
// and mutable by nobody but operators with the cross-tenant permission.
type Service struct {
	store    Store
	resolver rbac.Resolver
	scopes   *shared.ScopeResolver
	audit    AuditLog
	logger   *slog.Logger
}

func NewService(store Store, resolver rbac.Resolver, scopes *shared.ScopeResolver, auditLog AuditLog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, resolver: resolver, scopes: scopes, audit: auditLog, logger: logger}
}

// ListRoles returns system roles plus the caller's organization roles.
func (s *Service) ListRoles(ctx context.Context, sess *shared.Session) ([]rbac.Role, error) {
	scope, err := s.scopes.ScopeFor(ctx, sess)
	if err != nil {
		return nil, err
	}
	return s.store.List(ctx, scope)
}

// GetRole returns one role in scope with its attached permissions.
func (s *Service) GetRole(ctx context.Context, sess *shared.Session, roleID int64) (rbac.Role, []rbac.Permission, error) {
	role, _, err := s.visibleRole(ctx, sess, roleID)
	if err != nil {
		return rbac.Role{}, nil, err
	}
	perms, err := s.store.PermissionsOf(ctx, roleID)
	if err != nil {
		return rbac.Role{}, nil, err
	}
	return role, perms, nil
}

// CreateRole creates a role owned by the caller's organization. Callers with
// an unrestricted scope may create system roles by passing system true.
func (s *Service) CreateRole(ctx context.Context, sess *shared.Session, name, displayName, description string, system bool) (rbac.Role, error) {
	scope, err := s.scopes.ScopeFor(ctx, sess)
	if err != nil {
		return rbac.Role{}, err
	}

	var orgID *int64
	if system {
		if !scope.All {
			return rbac.Role{}, ErrSystemRole
		}
	} else {
		owner, err := shared.CurrentOrgID(sess)
		if err != nil {
			return rbac.Role{}, err
		}
		orgID = &owner
	}

	role, err := s.store.Create(ctx, name, displayName, description, orgID)
	if err != nil {
		return rbac.Role{}, err
	}
	s.logger.Info("rôle créé", "role_id", role.ID, "name", role.Name, "system", role.IsSystem)
	return role, nil
}

// UpdateRole rewrites a role's fields. System roles keep their name; only
// display fields and the active flag may change.
func (s *Service) UpdateRole(ctx context.Context, sess *shared.Session, roleID int64, name, displayName, description string, isActive bool) (rbac.Role, error) {
	role, scope, err := s.visibleRole(ctx, sess, roleID)
	if err != nil {
		return rbac.Role{}, err
	}
	if err := s.requireMutable(role, scope); err != nil {
		return rbac.Role{}, err
	}
	if role.IsSystem && name != role.Name {
		return rbac.Role{}, ErrSystemRole
	}

	updated, err := s.store.Update(ctx, roleID, name, displayName, description, isActive)
	if err != nil {
		return rbac.Role{}, err
	}

	if role.IsActive != updated.IsActive {
		s.invalidateHolders(ctx, roleID)
	}
	s.logger.Info("rôle mis à jour", "role_id", roleID)
	return updated, nil
}

// DeleteRole removes an unused tenant role. System roles and roles still
// assigned to users are protected.
func (s *Service) DeleteRole(ctx context.Context, sess *shared.Session, roleID int64) error {
	role, scope, err := s.visibleRole(ctx, sess, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}
	if err := s.requireMutable(role, scope); err != nil {
		return err
	}

	count, err := s.store.CountAssignments(ctx, roleID)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrRoleInUse
	}

	if err := s.store.Delete(ctx, roleID); err != nil {
		return err
	}
	s.logger.Info("rôle supprimé", "role_id", roleID)
	return nil
}

// SetRolePermissions replaces the role's permission set and invalidates the
// cached permissions of every holder before returning.
func (s *Service) SetRolePermissions(ctx context.Context, sess *shared.Session, roleID int64, permissionIDs []int64) error {
	role, scope, err := s.visibleRole(ctx, sess, roleID)
	if err != nil {
		return err
	}
	if err := s.requireMutable(role, scope); err != nil {
		return err
	}

	if err := s.store.SetPermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}

	s.invalidateHolders(ctx, roleID)
	s.record(ctx, sess, audit.Entry{
		EventType: audit.EventRolePermissionsUpdated,
		RoleID:    &roleID,
		Result:    audit.ResultApplied,
	})
	s.logger.Info("permissions du rôle mises à jour", "role_id", roleID, "count", len(permissionIDs))
	return nil
}

// RoleUsers lists the ids of users holding the role.
func (s *Service) RoleUsers(ctx context.Context, sess *shared.Session, roleID int64) ([]int64, error) {
	if _, _, err := s.visibleRole(ctx, sess, roleID); err != nil {
		return nil, err
	}
	return s.store.UsersWithRole(ctx, roleID)
}

// visibleRole loads a role and checks scope visibility: system roles are
// visible everywhere, tenant roles only within their organization.
func (s *Service) visibleRole(ctx context.Context, sess *shared.Session, roleID int64) (rbac.Role, shared.Scope, error) {
	scope, err := s.scopes.ScopeFor(ctx, sess)
	if err != nil {
		return rbac.Role{}, shared.Scope{}, err
	}
	role, err := s.store.FindByID(ctx, roleID)
	if err != nil {
		return rbac.Role{}, shared.Scope{}, err
	}
	if role.OrganizationID != nil && !scope.Allows(*role.OrganizationID) {
		return rbac.Role{}, shared.Scope{}, ErrNotFound
	}
	return role, scope, nil
}

// requireMutable rejects mutation of system roles by tenant-scoped callers.
func (s *Service) requireMutable(role rbac.Role, scope shared.Scope) error {
	if role.IsSystem && !scope.All {
		return ErrSystemRole
	}
	return nil
}

func (s *Service) invalidateHolders(ctx context.Context, roleID int64) {
	userIDs, err := s.store.UsersWithRole(ctx, roleID)
	if err != nil {
		s.logger.Warn("liste des détenteurs du rôle indisponible, purge globale", "role_id", roleID, "error", err)
		s.resolver.ClearAllPermissionCaches(ctx)
		return
	}
	for _, userID := range userIDs {
		s.resolver.ClearUserPermissionCache(ctx, userID)
	}
}

func (s *Service) record(ctx context.Context, sess *shared.Session, entry audit.Entry) {
	if s.audit == nil {
		return
	}
	if entry.ActorID == nil {
		if orig := shared.OriginalUser(sess); orig != nil {
			entry.ActorID = &orig.UserID
		} else if actorID, err := shared.CurrentUserID(sess); err == nil {
			entry.ActorID = &actorID
		}
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("écriture du journal d'audit échouée", "event", entry.EventType, "error", err)
	}
}
