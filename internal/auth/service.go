package auth

import (
	"context"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/epicoop/epicoop/internal/audit"
	"github.com/epicoop/epicoop/internal/shared"
)

// Accounts is the persistence surface the service needs.
type Accounts interface {
	FindByUsername(ctx context.Context, username string) (Account, error)
	FindByID(ctx context.Context, id int64) (Account, error)
}

// AuditLog records authentication events.
type AuditLog interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service implements password authentication and impersonation.
type Service struct {
	accounts Accounts
	audit    AuditLog
	logger   *slog.Logger
}

func NewService(accounts Accounts, auditLog AuditLog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{accounts: accounts, audit: auditLog, logger: logger}
}

// Authenticate verifies a username and password and returns the identity
// snapshot to store in the session. Unknown users and wrong passwords both
// resolve to ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (shared.UserSnapshot, error) {
	account, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		return shared.UserSnapshot{}, err
	}
	if !account.IsActive {
		return shared.UserSnapshot{}, ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return shared.UserSnapshot{}, ErrInvalidCredentials
	}
	s.logger.Info("connexion réussie", "user_id", account.ID, "username", account.Username)
	return snapshot(account), nil
}

// Impersonate returns the impersonated identity for a target user, keeping
// the administrator's snapshot so Stop can restore it. The permission check
// on the caller happens in the handler's middleware chain.
func (s *Service) Impersonate(ctx context.Context, sess *shared.Session, targetID int64) (shared.Identity, error) {
	adminID, err := shared.CurrentUserID(sess)
	if err != nil {
		return shared.Identity{}, err
	}
	if adminID == targetID {
		return shared.Identity{}, ErrSelfImpersonation
	}
	if shared.IsImpersonating(sess) {
		return shared.Identity{}, ErrSelfImpersonation
	}

	target, err := s.accounts.FindByID(ctx, targetID)
	if err != nil {
		return shared.Identity{}, err
	}
	if !target.IsActive {
		return shared.Identity{}, ErrAccountDisabled
	}

	original := sess.Identity().ActingAs
	identity := shared.ImpersonatedIdentity(snapshot(target), original)

	s.record(ctx, audit.Entry{
		EventType: audit.EventImpersonationStarted,
		UserID:    &targetID,
		ActorID:   &adminID,
		Result:    audit.ResultApplied,
	})
	s.logger.Info("impersonation démarrée", "admin_id", adminID, "target_id", targetID)
	return identity, nil
}

// StopImpersonation returns the identity to restore after impersonation.
func (s *Service) StopImpersonation(ctx context.Context, sess *shared.Session) (shared.Identity, error) {
	original := shared.OriginalUser(sess)
	if original == nil {
		return shared.Identity{}, ErrNotImpersonating
	}
	actedAs, err := shared.CurrentUserID(sess)
	if err != nil {
		return shared.Identity{}, err
	}

	s.record(ctx, audit.Entry{
		EventType: audit.EventImpersonationStopped,
		UserID:    &actedAs,
		ActorID:   &original.UserID,
		Result:    audit.ResultApplied,
	})
	s.logger.Info("impersonation terminée", "admin_id", original.UserID, "target_id", actedAs)
	return shared.DirectIdentity(*original), nil
}

func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("écriture du journal d'audit échouée", "event", entry.EventType, "error", err)
	}
}

func snapshot(account Account) shared.UserSnapshot {
	return shared.UserSnapshot{
		UserID:         account.ID,
		OrganizationID: account.OrganizationID,
		Username:       account.Username,
		Role:           account.Role,
		RBACEnabled:    account.RBACEnabled,
	}
}
