package rbac_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/epicoop/epicoop/internal/rbac"
	"github.com/epicoop/epicoop/internal/shared"
	_ "github.com/epicoop/epicoop/testing"
)

type fakeResolver struct {
	perms   map[int64]rbac.PermissionSet
	cleared []int64
}

func (f *fakeResolver) GetUserPermissions(ctx context.Context, userID int64) rbac.PermissionSet {
	if perms, ok := f.perms[userID]; ok {
		return perms
	}
	return make(rbac.PermissionSet)
}

func (f *fakeResolver) ClearUserPermissionCache(ctx context.Context, userID int64) {
	f.cleared = append(f.cleared, userID)
}

func (f *fakeResolver) ClearAllPermissionCaches(ctx context.Context) {}

func sessionFor(user shared.UserSnapshot) *shared.Session {
	sess := &shared.Session{}
	sess.SetIdentity(shared.DirectIdentity(user))
	return sess
}

func TestHasPermissionMembership(t *testing.T) {
	resolver := &fakeResolver{perms: map[int64]rbac.PermissionSet{
		1: rbac.NewPermissionSet("users.view"),
	}}
	svc := rbac.NewService(resolver, slog.Default())
	sess := sessionFor(shared.UserSnapshot{UserID: 1, OrganizationID: 1, Username: "marie", Role: "Member", RBACEnabled: true})

	if !svc.HasPermission(context.Background(), sess, "users.view") {
		t.Fatalf("expected granted permission")
	}
	if svc.HasPermission(context.Background(), sess, "users") {
		t.Fatalf("expected exact-name matching, users.view must not grant users")
	}
}

func TestHasPermissionAnonymous(t *testing.T) {
	svc := rbac.NewService(&fakeResolver{}, slog.Default())
	if svc.HasPermission(context.Background(), nil, "users.view") {
		t.Fatalf("expected denial for nil session")
	}
	if svc.HasPermission(context.Background(), &shared.Session{}, "users.view") {
		t.Fatalf("expected denial for anonymous session")
	}
}

func TestHasPermissionLegacySuperAdmin(t *testing.T) {
	svc := rbac.NewService(&fakeResolver{}, slog.Default())
	// RBAC disabled, no stored permissions: the legacy role alone passes.
	sess := sessionFor(shared.UserSnapshot{UserID: 2, OrganizationID: 1, Username: "root", Role: shared.RoleSuperAdmin, RBACEnabled: false})

	if !svc.HasPermission(context.Background(), sess, "users") {
		t.Fatalf("expected SuperAdmin bridge to grant")
	}
}

func TestHasPermissionViewAllBypassesRBACFlag(t *testing.T) {
	resolver := &fakeResolver{perms: map[int64]rbac.PermissionSet{
		3: rbac.NewPermissionSet(shared.PermOrganizationsViewAll),
	}}
	svc := rbac.NewService(resolver, slog.Default())
	sess := sessionFor(shared.UserSnapshot{UserID: 3, OrganizationID: 1, Username: "ops", Role: "Member", RBACEnabled: false})

	if !svc.HasPermission(context.Background(), sess, "anything.at.all") {
		t.Fatalf("expected view_all holder to pass despite disabled flag")
	}
}

func TestHasPermissionRBACDisabled(t *testing.T) {
	resolver := &fakeResolver{perms: map[int64]rbac.PermissionSet{
		4: rbac.NewPermissionSet("users.view"),
	}}
	svc := rbac.NewService(resolver, slog.Default())
	sess := sessionFor(shared.UserSnapshot{UserID: 4, OrganizationID: 1, Username: "rene", Role: "Member", RBACEnabled: false})

	if svc.HasPermission(context.Background(), sess, "users.view") {
		t.Fatalf("expected denial when rbac flag disabled")
	}
}

func TestHasAnyPermissionEmptyListNeverSatisfied(t *testing.T) {
	resolver := &fakeResolver{perms: map[int64]rbac.PermissionSet{
		1: rbac.NewPermissionSet("users.view"),
	}}
	svc := rbac.NewService(resolver, slog.Default())
	sess := sessionFor(shared.UserSnapshot{UserID: 1, OrganizationID: 1, Username: "marie", Role: "Member", RBACEnabled: true})

	if svc.HasAnyPermission(context.Background(), sess, nil) {
		t.Fatalf("expected empty disjunction to fail")
	}
	if !svc.HasAnyPermission(context.Background(), sess, []string{"roles", "users.view"}) {
		t.Fatalf("expected one matching permission to satisfy")
	}
}

func TestHasAllPermissionsEmptyListVacuouslyTrue(t *testing.T) {
	resolver := &fakeResolver{perms: map[int64]rbac.PermissionSet{
		1: rbac.NewPermissionSet("users.view", "roles"),
	}}
	svc := rbac.NewService(resolver, slog.Default())
	sess := sessionFor(shared.UserSnapshot{UserID: 1, OrganizationID: 1, Username: "marie", Role: "Member", RBACEnabled: true})

	if !svc.HasAllPermissions(context.Background(), sess, nil) {
		t.Fatalf("expected empty conjunction to hold")
	}
	if !svc.HasAllPermissions(context.Background(), sess, []string{"users.view", "roles"}) {
		t.Fatalf("expected full set to satisfy")
	}
	if svc.HasAllPermissions(context.Background(), sess, []string{"users.view", "audit.view"}) {
		t.Fatalf("expected one missing permission to fail")
	}
}

func TestHasAnyPermissionNoLegacyBypass(t *testing.T) {
	svc := rbac.NewService(&fakeResolver{}, slog.Default())
	sess := sessionFor(shared.UserSnapshot{UserID: 2, OrganizationID: 1, Username: "root", Role: shared.RoleSuperAdmin, RBACEnabled: true})

	// Unlike HasPermission, the quantified predicates consult stored
	// permissions only.
	if svc.HasAnyPermission(context.Background(), sess, []string{"users"}) {
		t.Fatalf("expected no SuperAdmin bypass in HasAnyPermission")
	}
}

func TestIsSuperAdmin(t *testing.T) {
	resolver := &fakeResolver{perms: map[int64]rbac.PermissionSet{
		3: rbac.NewPermissionSet(shared.PermOrganizationsViewAll),
	}}
	svc := rbac.NewService(resolver, slog.Default())

	legacy := sessionFor(shared.UserSnapshot{UserID: 2, OrganizationID: 1, Username: "root", Role: shared.RoleSuperAdmin, RBACEnabled: false})
	if !svc.IsSuperAdmin(context.Background(), legacy) {
		t.Fatalf("expected legacy role to qualify")
	}

	viewAll := sessionFor(shared.UserSnapshot{UserID: 3, OrganizationID: 1, Username: "ops", Role: "Member", RBACEnabled: true})
	if !svc.IsSuperAdmin(context.Background(), viewAll) {
		t.Fatalf("expected view_all holder to qualify")
	}

	plain := sessionFor(shared.UserSnapshot{UserID: 4, OrganizationID: 1, Username: "rene", Role: "Member", RBACEnabled: true})
	if svc.IsSuperAdmin(context.Background(), plain) {
		t.Fatalf("expected regular member to not qualify")
	}
}
