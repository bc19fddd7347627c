package goIdentity

import (
	"context"
	"time"

	"github.com/MrEthical07/goIdentity/oauth"
	"github.com/MrEthical07/goIdentity/permission"
)

// Credentials is what the password grant needs to know about an account.
type Credentials struct {
	UserID       string
	PasswordHash string
	// ResetPassword is set on accounts created through federation; they hold
	// a random placeholder password and must finish setup first.
	ResetPassword bool
}

// NewAccount is the input of [IdentityStore.CreateAccount].
type NewAccount struct {
	Username     string
	Email        string
	PasswordHash string
	Image        string
}

// EmailRecord is one stored address as seen by the reset flow.
type EmailRecord struct {
	UserID   string
	Verified bool
}

// ReconcileInput is the input of the identity reconciliation transaction.
type ReconcileInput struct {
	Identity oauth.Identity
	// PlaceholderHash is called only when a new user row is created and must
	// return an encoded hash of an unguessable password.
	PlaceholderHash func(ctx context.Context) (string, error)
}

// IdentityStore is the durable store the Engine reads and writes accounts
// through. Implementations return [ErrNotFound] for absent rows and
// [*ConflictError] for unique constraint violations.
//
//	Docs: storage/postgres
type IdentityStore interface {
	permission.RoleSource

	// CredentialsByEmail looks up the account owning email as its primary address.
	CredentialsByEmail(ctx context.Context, email string) (Credentials, error)
	PasswordHash(ctx context.Context, userID string) (string, error)
	// UpdatePasswordHash stores hash and clears the reset_password flag.
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	// CreateAccount inserts a user and its primary email in one transaction.
	CreateAccount(ctx context.Context, acct NewAccount) (string, error)
	// LookupEmail resolves any address (primary or not) to its owner.
	LookupEmail(ctx context.Context, email string) (EmailRecord, error)
	PrimaryEmail(ctx context.Context, userID string) (string, error)
	// MarkEmailVerified flags email as verified when it belongs to userID.
	MarkEmailVerified(ctx context.Context, userID, email string) error
	MarkConfirmationSent(ctx context.Context, userID, email string, at time.Time) error
	// Reconcile runs the federation transaction and returns the local user id.
	Reconcile(ctx context.Context, in ReconcileInput) (string, error)
}

// TokenGrant is the token endpoint response body.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64  `json:"expires_in"`
	TokenType string `json:"token_type"`
	Scope     string `json:"scope"`
}

// SessionInfo describes one live session as shown to its owner.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	DeviceName   *string   `json:"device_name,omitempty"`
	IP           *string   `json:"ip,omitempty"`
	LastAccessed time.Time `json:"last_accessed"`
}

// AuthResult is returned by [Engine.ValidateAccess].
type AuthResult struct {
	UserID    string
	SessionID string
	Scope     permission.Set
}
