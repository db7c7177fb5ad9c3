package auth

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/epicoop/epicoop/internal/audit"
	"github.com/epicoop/epicoop/internal/shared"
)

type fakeAccounts struct {
	byName map[string]Account
	byID   map[int64]Account
}

func (f *fakeAccounts) FindByUsername(ctx context.Context, username string) (Account, error) {
	account, ok := f.byName[username]
	if !ok {
		return Account{}, ErrInvalidCredentials
	}
	return account, nil
}

func (f *fakeAccounts) FindByID(ctx context.Context, id int64) (Account, error) {
	account, ok := f.byID[id]
	if !ok {
		return Account{}, ErrInvalidCredentials
	}
	return account, nil
}

type captureAudit struct {
	entries []audit.Entry
}

func (c *captureAudit) Record(ctx context.Context, entry audit.Entry) error {
	c.entries = append(c.entries, entry)
	return nil
}

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(h)
}

func TestAuthenticate(t *testing.T) {
	accounts := &fakeAccounts{byName: map[string]Account{
		"marie": {ID: 7, Username: "marie", PasswordHash: hash(t, "potager"), Role: "Member", OrganizationID: 2, RBACEnabled: true, IsActive: true},
	}}
	svc := NewService(accounts, nil, slog.Default())

	snap, err := svc.Authenticate(context.Background(), "marie", "potager")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if snap.UserID != 7 || snap.OrganizationID != 2 || !snap.RBACEnabled {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	accounts := &fakeAccounts{byName: map[string]Account{
		"marie": {ID: 7, Username: "marie", PasswordHash: hash(t, "potager"), IsActive: true},
	}}
	svc := NewService(accounts, nil, slog.Default())

	if _, err := svc.Authenticate(context.Background(), "marie", "verger"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	// Unknown usernames resolve to the same error as wrong passwords.
	if _, err := svc.Authenticate(context.Background(), "inconnu", "potager"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	accounts := &fakeAccounts{byName: map[string]Account{
		"rene": {ID: 8, Username: "rene", PasswordHash: hash(t, "potager"), IsActive: false},
	}}
	svc := NewService(accounts, nil, slog.Default())

	if _, err := svc.Authenticate(context.Background(), "rene", "potager"); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestImpersonate(t *testing.T) {
	accounts := &fakeAccounts{byID: map[int64]Account{
		4: {ID: 4, Username: "rene", Role: "Member", OrganizationID: 3, RBACEnabled: false, IsActive: true},
	}}
	auditLog := &captureAudit{}
	svc := NewService(accounts, auditLog, slog.Default())

	sess := &shared.Session{}
	sess.SetIdentity(shared.DirectIdentity(shared.UserSnapshot{
		UserID: 1, OrganizationID: 1, Username: "admin", Role: "SuperAdmin", RBACEnabled: true,
	}))

	identity, err := svc.Impersonate(context.Background(), sess, 4)
	if err != nil {
		t.Fatalf("Impersonate: %v", err)
	}
	sess.SetIdentity(identity)

	if id, _ := shared.CurrentUserID(sess); id != 4 {
		t.Fatalf("expected to act as user 4, got %d", id)
	}
	if orig := shared.OriginalUser(sess); orig == nil || orig.UserID != 1 {
		t.Fatalf("expected admin snapshot preserved, got %+v", orig)
	}
	if len(auditLog.entries) != 1 || auditLog.entries[0].EventType != audit.EventImpersonationStarted {
		t.Fatalf("expected impersonation_started entry, got %+v", auditLog.entries)
	}
}

func TestImpersonateSelfRejected(t *testing.T) {
	svc := NewService(&fakeAccounts{}, nil, slog.Default())

	sess := &shared.Session{}
	sess.SetIdentity(shared.DirectIdentity(shared.UserSnapshot{UserID: 1, OrganizationID: 1, Username: "admin", Role: "SuperAdmin"}))

	if _, err := svc.Impersonate(context.Background(), sess, 1); !errors.Is(err, ErrSelfImpersonation) {
		t.Fatalf("expected ErrSelfImpersonation, got %v", err)
	}
}

func TestImpersonateNestedRejected(t *testing.T) {
	accounts := &fakeAccounts{byID: map[int64]Account{
		5: {ID: 5, Username: "paul", OrganizationID: 2, IsActive: true},
	}}
	svc := NewService(accounts, nil, slog.Default())

	admin := shared.UserSnapshot{UserID: 1, OrganizationID: 1, Username: "admin", Role: "SuperAdmin"}
	target := shared.UserSnapshot{UserID: 4, OrganizationID: 3, Username: "rene", Role: "Member"}
	sess := &shared.Session{}
	sess.SetIdentity(shared.ImpersonatedIdentity(target, admin))

	if _, err := svc.Impersonate(context.Background(), sess, 5); !errors.Is(err, ErrSelfImpersonation) {
		t.Fatalf("expected nested impersonation rejected, got %v", err)
	}
}

func TestImpersonateDisabledTarget(t *testing.T) {
	accounts := &fakeAccounts{byID: map[int64]Account{
		4: {ID: 4, Username: "rene", OrganizationID: 3, IsActive: false},
	}}
	svc := NewService(accounts, nil, slog.Default())

	sess := &shared.Session{}
	sess.SetIdentity(shared.DirectIdentity(shared.UserSnapshot{UserID: 1, OrganizationID: 1, Username: "admin", Role: "SuperAdmin"}))

	if _, err := svc.Impersonate(context.Background(), sess, 4); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestStopImpersonationRestoresOriginal(t *testing.T) {
	auditLog := &captureAudit{}
	svc := NewService(&fakeAccounts{}, auditLog, slog.Default())

	admin := shared.UserSnapshot{UserID: 1, OrganizationID: 1, Username: "admin", Role: "SuperAdmin", RBACEnabled: true}
	target := shared.UserSnapshot{UserID: 4, OrganizationID: 3, Username: "rene", Role: "Member"}
	sess := &shared.Session{}
	sess.SetIdentity(shared.ImpersonatedIdentity(target, admin))

	identity, err := svc.StopImpersonation(context.Background(), sess)
	if err != nil {
		t.Fatalf("StopImpersonation: %v", err)
	}
	sess.SetIdentity(identity)

	if id, _ := shared.CurrentUserID(sess); id != 1 {
		t.Fatalf("expected admin restored, got %d", id)
	}
	if shared.IsImpersonating(sess) {
		t.Fatalf("expected impersonation ended")
	}
	if len(auditLog.entries) != 1 || auditLog.entries[0].EventType != audit.EventImpersonationStopped {
		t.Fatalf("expected impersonation_stopped entry, got %+v", auditLog.entries)
	}
}

func TestStopImpersonationWithoutImpersonation(t *testing.T) {
	svc := NewService(&fakeAccounts{}, nil, slog.Default())

	sess := &shared.Session{}
	sess.SetIdentity(shared.DirectIdentity(shared.UserSnapshot{UserID: 1, OrganizationID: 1, Username: "admin", Role: "Member"}))

	if _, err := svc.StopImpersonation(context.Background(), sess); !errors.Is(err, ErrNotImpersonating) {
		t.Fatalf("expected ErrNotImpersonating, got %v", err)
	}
}
