package shared

import (
	"context"
	"errors"
	"testing"
)

type stubChecker struct {
	granted map[string]bool
}

func (s *stubChecker) HasPermission(ctx context.Context, sess *Session, name string) bool {
	return s.granted[name]
}

func TestScopeForRegularUser(t *testing.T) {
	resolver := NewScopeResolver(&stubChecker{})
	sess := &Session{}
	sess.SetIdentity(DirectIdentity(UserSnapshot{UserID: 5, OrganizationID: 2, Username: "marie", Role: "Member", RBACEnabled: true}))

	scope, err := resolver.ScopeFor(context.Background(), sess)
	if err != nil {
		t.Fatalf("ScopeFor: %v", err)
	}
	if scope.All || scope.OrgID != 2 {
		t.Fatalf("expected org-bound scope, got %+v", scope)
	}
	if !scope.Allows(2) || scope.Allows(3) {
		t.Fatalf("expected scope to allow only own organization")
	}
}

func TestScopeForViewAllHolder(t *testing.T) {
	resolver := NewScopeResolver(&stubChecker{granted: map[string]bool{PermOrganizationsViewAll: true}})
	sess := &Session{}
	sess.SetIdentity(DirectIdentity(UserSnapshot{UserID: 5, OrganizationID: 2, Username: "ops", Role: "Member", RBACEnabled: true}))

	scope, err := resolver.ScopeFor(context.Background(), sess)
	if err != nil {
		t.Fatalf("ScopeFor: %v", err)
	}
	if !scope.All {
		t.Fatalf("expected unrestricted scope, got %+v", scope)
	}
	if !scope.Allows(2) || !scope.Allows(99) {
		t.Fatalf("expected unrestricted scope to allow every organization")
	}
}

func TestScopeForAnonymous(t *testing.T) {
	resolver := NewScopeResolver(&stubChecker{})
	if _, err := resolver.ScopeFor(context.Background(), &Session{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestScopeFilter(t *testing.T) {
	fragment, args := Scope{OrgID: 7}.Filter("organization_id", 2)
	if fragment != " AND organization_id = $2" {
		t.Fatalf("unexpected fragment %q", fragment)
	}
	if len(args) != 1 || args[0].(int64) != 7 {
		t.Fatalf("unexpected args %v", args)
	}

	fragment, args = Scope{All: true}.Filter("organization_id", 1)
	if fragment != "" || args != nil {
		t.Fatalf("expected empty filter for unrestricted scope, got %q %v", fragment, args)
	}
}
