package auth

import (
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials covers both unknown usernames and wrong
	// passwords; callers must not distinguish the two.
	ErrInvalidCredentials = errors.New("identifiants invalides")
	// ErrAccountDisabled is returned for inactive accounts.
	ErrAccountDisabled = errors.New("compte désactivé")
	// ErrNotImpersonating rejects a stop request outside impersonation.
	ErrNotImpersonating = errors.New("aucune impersonation en cours")
	// ErrSelfImpersonation rejects impersonating oneself.
	ErrSelfImpersonation = errors.New("impossible de s'impersonner soi-même")
)

// Account is the credential row used for authentication.
type Account struct {
	ID             int64
	Username       string
	PasswordHash   string
	Role           string
	OrganizationID int64
	RBACEnabled    bool
	IsActive       bool
	CreatedAt      time.Time
}
