package port

import (
	"context"
	"errors"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
)

var (
	// ErrEmailInUse is returned by CreateCredential when the email already has a credential.
	ErrEmailInUse = errors.New("auth backend: email already in use")
	// ErrBadCredentials is returned by Authenticate for unknown emails and wrong passwords alike.
	ErrBadCredentials = errors.New("auth backend: invalid email or password")
	// ErrNotSignedIn is returned by operations that need a signed-in device.
	ErrNotSignedIn = errors.New("auth backend: not signed in")
)

// AuthStateListener receives authentication backend notifications for one device.
type AuthStateListener func(ctx context.Context, state domain.AuthState)

// Authenticator is the device-scoped handle on the authentication backend.
type Authenticator interface {
	CreateCredential(ctx context.Context, email, password string) (domain.AccountID, error)
	Authenticate(ctx context.Context, email, password string) (domain.AccountID, error)
	SignOut(ctx context.Context) error
	Subscribe(listener AuthStateListener) (unsubscribe func())
	IssueBearerCredential(ctx context.Context) (domain.BearerCredential, error)
	SendPasswordReset(ctx context.Context, email string) error
}

// CredentialRepository persists email/password credentials for the authentication backend.
type CredentialRepository interface {
	Create(ctx context.Context, credential domain.Credential) error
	GetByEmail(ctx context.Context, email string) (*domain.Credential, error)
	GetByID(ctx context.Context, id domain.AccountID) (*domain.Credential, error)
}
