package users

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/epicoop/epicoop/internal/audit"
	"github.com/epicoop/epicoop/internal/rbac"
	"github.com/epicoop/epicoop/internal/shared"
)

type fakeStore struct {
	users       map[int64]User
	roleOrgs    map[int64]*int64
	roleCounts  map[int64]int
	modules     map[string]string
	insertErr   error
	events      []string
	rbacUpdates map[int64]bool
}

func (f *fakeStore) List(ctx context.Context, scope shared.Scope) ([]User, error) {
	var out []User
	for _, u := range f.users {
		if scope.Allows(u.OrganizationID) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) FindByID(ctx context.Context, id int64, scope shared.Scope) (User, error) {
	u, ok := f.users[id]
	if !ok || !scope.Allows(u.OrganizationID) {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) RolesOf(ctx context.Context, userID int64) ([]AssignedRole, error) {
	return nil, nil
}

func (f *fakeStore) RoleOrganization(ctx context.Context, roleID int64) (*int64, error) {
	org, ok := f.roleOrgs[roleID]
	if !ok {
		return nil, ErrNotFound
	}
	return org, nil
}

func (f *fakeStore) CountActiveRoles(ctx context.Context, userID int64) (int, error) {
	return f.roleCounts[userID], nil
}

func (f *fakeStore) InsertRole(ctx context.Context, userID, roleID int64, assignedBy int64, expiresAt *time.Time, reason string) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.events = append(f.events, "insert")
	return nil
}

func (f *fakeStore) DeleteRole(ctx context.Context, userID, roleID int64) error {
	f.events = append(f.events, "delete")
	return nil
}

func (f *fakeStore) SetRBACEnabled(ctx context.Context, userID int64, enabled bool) error {
	if f.rbacUpdates == nil {
		f.rbacUpdates = make(map[int64]bool)
	}
	f.rbacUpdates[userID] = enabled
	return nil
}

func (f *fakeStore) PermissionModules(ctx context.Context, names []string) (map[string]string, error) {
	return f.modules, nil
}

type trackingResolver struct {
	store   *fakeStore
	perms   rbac.PermissionSet
	cleared []int64
}

func (r *trackingResolver) GetUserPermissions(ctx context.Context, userID int64) rbac.PermissionSet {
	if r.perms == nil {
		return make(rbac.PermissionSet)
	}
	return r.perms
}

func (r *trackingResolver) ClearUserPermissionCache(ctx context.Context, userID int64) {
	r.cleared = append(r.cleared, userID)
	if r.store != nil {
		r.store.events = append(r.store.events, "invalidate")
	}
}

func (r *trackingResolver) ClearAllPermissionCaches(ctx context.Context) {}

type captureAudit struct {
	entries []audit.Entry
}

func (c *captureAudit) Record(ctx context.Context, entry audit.Entry) error {
	c.entries = append(c.entries, entry)
	return nil
}

type allowAllChecker struct{ all bool }

func (c allowAllChecker) HasPermission(ctx context.Context, sess *shared.Session, name string) bool {
	return c.all
}

func managerSession() *shared.Session {
	sess := &shared.Session{}
	sess.SetIdentity(shared.DirectIdentity(shared.UserSnapshot{
		UserID: 1, OrganizationID: 2, Username: "gestionnaire", Role: "Manager", RBACEnabled: true,
	}))
	return sess
}

func newTestService(store *fakeStore, resolver *trackingResolver, auditLog AuditLog) *Service {
	scopes := shared.NewScopeResolver(allowAllChecker{})
	return NewService(store, resolver, scopes, auditLog, slog.Default())
}

func TestRemoveRoleLastRoleProtected(t *testing.T) {
	store := &fakeStore{
		users:      map[int64]User{4: {ID: 4, OrganizationID: 2}},
		roleCounts: map[int64]int{4: 1},
	}
	resolver := &trackingResolver{store: store}
	svc := newTestService(store, resolver, nil)

	err := svc.RemoveRole(context.Background(), managerSession(), 4, 10)
	if !errors.Is(err, ErrLastRole) {
		t.Fatalf("expected ErrLastRole, got %v", err)
	}
	if len(store.events) != 0 {
		t.Fatalf("expected no mutation, got %v", store.events)
	}
	if len(resolver.cleared) != 0 {
		t.Fatalf("expected no invalidation on rejected removal")
	}
}

func TestRemoveRoleInvalidatesCache(t *testing.T) {
	store := &fakeStore{
		users:      map[int64]User{4: {ID: 4, OrganizationID: 2}},
		roleCounts: map[int64]int{4: 2},
	}
	resolver := &trackingResolver{store: store}
	auditLog := &captureAudit{}
	svc := newTestService(store, resolver, auditLog)

	if err := svc.RemoveRole(context.Background(), managerSession(), 4, 10); err != nil {
		t.Fatalf("RemoveRole: %v", err)
	}
	if len(resolver.cleared) != 1 || resolver.cleared[0] != 4 {
		t.Fatalf("expected cache cleared for user 4, got %v", resolver.cleared)
	}
	if len(auditLog.entries) != 1 || auditLog.entries[0].EventType != audit.EventRoleRemoved {
		t.Fatalf("expected role_removed audit entry, got %+v", auditLog.entries)
	}
}

func TestAssignRoleInvalidatesBeforeReturning(t *testing.T) {
	orgID := int64(2)
	store := &fakeStore{
		users:    map[int64]User{4: {ID: 4, OrganizationID: 2}},
		roleOrgs: map[int64]*int64{10: &orgID},
	}
	resolver := &trackingResolver{store: store}
	svc := newTestService(store, resolver, nil)

	if err := svc.AssignRole(context.Background(), managerSession(), 4, 10, nil, "renfort saison"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if len(store.events) != 2 || store.events[0] != "insert" || store.events[1] != "invalidate" {
		t.Fatalf("expected insert then invalidate, got %v", store.events)
	}
}

func TestAssignRoleForeignOrganizationRejected(t *testing.T) {
	otherOrg := int64(9)
	store := &fakeStore{
		users:    map[int64]User{4: {ID: 4, OrganizationID: 2}},
		roleOrgs: map[int64]*int64{10: &otherOrg},
	}
	resolver := &trackingResolver{store: store}
	svc := newTestService(store, resolver, nil)

	err := svc.AssignRole(context.Background(), managerSession(), 4, 10, nil, "")
	if !errors.Is(err, ErrForeignOrganization) {
		t.Fatalf("expected ErrForeignOrganization, got %v", err)
	}
	if len(store.events) != 0 {
		t.Fatalf("expected no mutation, got %v", store.events)
	}
}

func TestAssignRoleSystemRoleAllowed(t *testing.T) {
	store := &fakeStore{
		users:    map[int64]User{4: {ID: 4, OrganizationID: 2}},
		roleOrgs: map[int64]*int64{10: nil},
	}
	resolver := &trackingResolver{store: store}
	svc := newTestService(store, resolver, nil)

	if err := svc.AssignRole(context.Background(), managerSession(), 4, 10, nil, ""); err != nil {
		t.Fatalf("expected system role assignable, got %v", err)
	}
}

func TestAssignRoleExpiryInPast(t *testing.T) {
	orgID := int64(2)
	store := &fakeStore{
		users:    map[int64]User{4: {ID: 4, OrganizationID: 2}},
		roleOrgs: map[int64]*int64{10: &orgID},
	}
	resolver := &trackingResolver{store: store}
	svc := newTestService(store, resolver, nil)

	past := time.Now().Add(-time.Hour)
	if err := svc.AssignRole(context.Background(), managerSession(), 4, 10, &past, ""); !errors.Is(err, ErrExpiryInPast) {
		t.Fatalf("expected ErrExpiryInPast, got %v", err)
	}
}

func TestAssignRoleDuplicatePropagates(t *testing.T) {
	orgID := int64(2)
	store := &fakeStore{
		users:     map[int64]User{4: {ID: 4, OrganizationID: 2}},
		roleOrgs:  map[int64]*int64{10: &orgID},
		insertErr: ErrAlreadyAssigned,
	}
	resolver := &trackingResolver{store: store}
	svc := newTestService(store, resolver, nil)

	if err := svc.AssignRole(context.Background(), managerSession(), 4, 10, nil, ""); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
	}
	if len(resolver.cleared) != 0 {
		t.Fatalf("expected no invalidation on failed insert")
	}
}

func TestEffectivePermissionsRBACDisabled(t *testing.T) {
	store := &fakeStore{
		users: map[int64]User{4: {ID: 4, OrganizationID: 2, RBACEnabled: false}},
	}
	resolver := &trackingResolver{store: store, perms: rbac.NewPermissionSet("users.view")}
	svc := newTestService(store, resolver, nil)

	view, err := svc.EffectivePermissions(context.Background(), managerSession(), 4)
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if view.RBACEnabled || view.Total != 0 || len(view.Modules) != 0 {
		t.Fatalf("expected empty view with flag exposed, got %+v", view)
	}
}

func TestEffectivePermissionsGroupedByModule(t *testing.T) {
	store := &fakeStore{
		users: map[int64]User{4: {ID: 4, OrganizationID: 2, RBACEnabled: true}},
		modules: map[string]string{
			"users.view": "users",
			"catalogues": "catalogues",
		},
	}
	resolver := &trackingResolver{store: store, perms: rbac.NewPermissionSet("users.view", "catalogues", "inconnu")}
	svc := newTestService(store, resolver, nil)

	view, err := svc.EffectivePermissions(context.Background(), managerSession(), 4)
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if view.Total != 3 {
		t.Fatalf("expected three permissions, got %d", view.Total)
	}
	if len(view.Modules["users"]) != 1 || len(view.Modules["catalogues"]) != 1 {
		t.Fatalf("unexpected grouping %+v", view.Modules)
	}
	if len(view.Modules["autres"]) != 1 {
		t.Fatalf("expected unknown module bucketed under autres, got %+v", view.Modules)
	}
}

func TestSetRBACEnabledInvalidatesAndAudits(t *testing.T) {
	store := &fakeStore{
		users: map[int64]User{4: {ID: 4, OrganizationID: 2, RBACEnabled: false}},
	}
	resolver := &trackingResolver{store: store}
	auditLog := &captureAudit{}
	svc := newTestService(store, resolver, auditLog)

	if err := svc.SetRBACEnabled(context.Background(), managerSession(), 4, true); err != nil {
		t.Fatalf("SetRBACEnabled: %v", err)
	}
	if !store.rbacUpdates[4] {
		t.Fatalf("expected flag persisted")
	}
	if len(resolver.cleared) != 1 || resolver.cleared[0] != 4 {
		t.Fatalf("expected invalidation, got %v", resolver.cleared)
	}
	if len(auditLog.entries) != 1 || auditLog.entries[0].EventType != audit.EventRBACToggled {
		t.Fatalf("expected rbac_toggled entry, got %+v", auditLog.entries)
	}
	if auditLog.entries[0].ActorID == nil || *auditLog.entries[0].ActorID != 1 {
		t.Fatalf("expected actor recorded, got %+v", auditLog.entries[0].ActorID)
	}
}

func TestGetUserOutOfScope(t *testing.T) {
	store := &fakeStore{
		users: map[int64]User{4: {ID: 4, OrganizationID: 9}},
	}
	resolver := &trackingResolver{store: store}
	scopes := shared.NewScopeResolver(allowAllChecker{all: false})
	svc := NewService(store, resolver, scopes, nil, slog.Default())

	if _, err := svc.GetUser(context.Background(), managerSession(), 4); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected out-of-scope user hidden, got %v", err)
	}
}
