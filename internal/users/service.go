package users

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/epicoop/epicoop/internal/audit"
	"github.com/epicoop/epicoop/internal/rbac"
	"github.com/epicoop/epicoop/internal/shared"
)

// Store is the persistence surface the service needs. *Repository is the
// production implementation.
type Store interface {
	List(ctx context.Context, scope shared.Scope) ([]User, error)
	FindByID(ctx context.Context, id int64, scope shared.Scope) (User, error)
	RolesOf(ctx context.Context, userID int64) ([]AssignedRole, error)
	RoleOrganization(ctx context.Context, roleID int64) (*int64, error)
	CountActiveRoles(ctx context.Context, userID int64) (int, error)
	InsertRole(ctx context.Context, userID, roleID int64, assignedBy int64, expiresAt *time.Time, reason string) error
	DeleteRole(ctx context.Context, userID, roleID int64) error
	SetRBACEnabled(ctx context.Context, userID int64, enabled bool) error
	PermissionModules(ctx context.Context, names []string) (map[string]string, error)
}

// AuditLog records administrative events. Failures are logged, never
// propagated: an audit outage must not block role management.
type AuditLog interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service implements user and role-assignment administration. Every mutation
// invalidates the affected user's permission cache before returning, so the
// next authorization check sees the change.
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

// ListUsers returns the users visible to the session's tenant scope.
func (s *Service) ListUsers(ctx context.Context, sess *shared.Session) ([]User, error) {
	scope, err := s.scopes.ScopeFor(ctx, sess)
	if err != nil {
		return nil, err
	}
	return s.store.List(ctx, scope)
}

// GetUser returns one user within the session's scope.
func (s *Service) GetUser(ctx context.Context, sess *shared.Session, userID int64) (User, error) {
	scope, err := s.scopes.ScopeFor(ctx, sess)
	if err != nil {
		return User{}, err
	}
	return s.store.FindByID(ctx, userID, scope)
}

// UserRoles lists the active role assignments of a user in scope.
func (s *Service) UserRoles(ctx context.Context, sess *shared.Session, userID int64) ([]AssignedRole, error) {
	if _, err := s.GetUser(ctx, sess, userID); err != nil {
		return nil, err
	}
	return s.store.RolesOf(ctx, userID)
}

// AssignRole attaches a role to a user. Organization-owned roles can only be
// assigned to users of the same organization; system roles to anyone in
// scope. The user's permission cache is cleared before returning.
func (s *Service) AssignRole(ctx context.Context, sess *shared.Session, userID, roleID int64, expiresAt *time.Time, reason string) error {
	user, err := s.GetUser(ctx, sess, userID)
	if err != nil {
		return err
	}

	roleOrg, err := s.store.RoleOrganization(ctx, roleID)
	if err != nil {
		return err
	}
	if roleOrg != nil && *roleOrg != user.OrganizationID {
		return ErrForeignOrganization
	}
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		return fmt.Errorf("users: %w", ErrExpiryInPast)
	}

	actorID, err := shared.CurrentUserID(sess)
	if err != nil {
		return err
	}
	if err := s.store.InsertRole(ctx, userID, roleID, actorID, expiresAt, reason); err != nil {
		return err
	}

	s.resolver.ClearUserPermissionCache(ctx, userID)
	s.recordRoleEvent(ctx, sess, audit.EventRoleAssigned, userID, roleID)
	s.logger.Info("rôle assigné", "user_id", userID, "role_id", roleID, "actor_id", actorID)
	return nil
}

// RemoveRole detaches a role from a user. Removing the last active role is
// rejected with ErrLastRole; assign a replacement first.
func (s *Service) RemoveRole(ctx context.Context, sess *shared.Session, userID, roleID int64) error {
	if _, err := s.GetUser(ctx, sess, userID); err != nil {
		return err
	}

	count, err := s.store.CountActiveRoles(ctx, userID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return ErrLastRole
	}

	if err := s.store.DeleteRole(ctx, userID, roleID); err != nil {
		return err
	}

	s.resolver.ClearUserPermissionCache(ctx, userID)
	s.recordRoleEvent(ctx, sess, audit.EventRoleRemoved, userID, roleID)
	s.logger.Info("rôle retiré", "user_id", userID, "role_id", roleID)
	return nil
}

// EffectivePermissions resolves the user's permission set grouped by module.
// Users with RBAC disabled resolve to an empty view with the flag exposed,
// so the admin UI can explain why nothing applies.
func (s *Service) EffectivePermissions(ctx context.Context, sess *shared.Session, userID int64) (EffectivePermissions, error) {
	user, err := s.GetUser(ctx, sess, userID)
	if err != nil {
		return EffectivePermissions{}, err
	}

	view := EffectivePermissions{
		UserID:      user.ID,
		RBACEnabled: user.RBACEnabled,
		Modules:     map[string][]string{},
	}
	if !user.RBACEnabled {
		return view, nil
	}

	names := s.resolver.GetUserPermissions(ctx, userID).Names()
	modules, err := s.store.PermissionModules(ctx, names)
	if err != nil {
		return EffectivePermissions{}, err
	}
	for _, name := range names {
		module := modules[name]
		if module == "" {
			module = "autres"
		}
		view.Modules[module] = append(view.Modules[module], name)
	}
	view.Total = len(names)
	return view, nil
}

// SetRBACEnabled flips a user's RBAC participation and invalidates their
// cached permissions.
func (s *Service) SetRBACEnabled(ctx context.Context, sess *shared.Session, userID int64, enabled bool) error {
	if _, err := s.GetUser(ctx, sess, userID); err != nil {
		return err
	}
	if err := s.store.SetRBACEnabled(ctx, userID, enabled); err != nil {
		return err
	}

	s.resolver.ClearUserPermissionCache(ctx, userID)

	detail := "disabled"
	if enabled {
		detail = "enabled"
	}
	s.record(ctx, sess, audit.Entry{
		EventType: audit.EventRBACToggled,
		UserID:    &userID,
		Result:    audit.ResultApplied,
		Details:   &detail,
	})
	s.logger.Info("participation RBAC modifiée", "user_id", userID, "enabled", enabled)
	return nil
}

func (s *Service) recordRoleEvent(ctx context.Context, sess *shared.Session, event string, userID, roleID int64) {
	s.record(ctx, sess, audit.Entry{
		EventType: event,
		UserID:    &userID,
		RoleID:    &roleID,
		Result:    audit.ResultApplied,
	})
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
