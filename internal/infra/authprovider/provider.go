// Package authprovider implements the authentication backend behind port.Authenticator:
// email/password credentials in Postgres, argon2id hashes, per-device signed-in state in
// the device key/value namespace, and HS256 bearer credentials.
package authprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/infra/logger"
	"github.com/wre314954-sudo/wirenew/internal/infra/security"
	"github.com/wre314954-sudo/wirenew/internal/repository"
)

// PasswordHasher hashes and verifies credential passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// BearerSigner issues bearer credentials for an account.
type BearerSigner interface {
	Issue(accountID string) (string, time.Time, error)
}

// Provider is the process-wide authentication backend. Device handles share it.
type Provider struct {
	credentials port.CredentialRepository
	hasher      PasswordHasher
	bearer      BearerSigner
	events      port.EventPublisher
	logger      *zap.Logger
	now         func() time.Time
}

// NewProvider wires the backend dependencies.
func NewProvider(credentials port.CredentialRepository, hasher PasswordHasher, bearer BearerSigner, events port.EventPublisher, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{
		credentials: credentials,
		hasher:      hasher,
		bearer:      bearer,
		events:      events,
		logger:      log,
		now:         time.Now,
	}
}

// WithClock overrides the provider clock, primarily for tests.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	if now != nil {
		p.now = now
	}
	return p
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (p *Provider) createCredential(ctx context.Context, email, password string) (domain.AccountID, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", port.ErrBadCredentials
	}

	hash, err := p.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	credential := domain.Credential{
		AccountID:    uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    p.now().UTC(),
	}
	if err := p.credentials.Create(ctx, credential); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return "", port.ErrEmailInUse
		}
		return "", fmt.Errorf("create credential: %w", err)
	}

	p.logger.Info("credential created",
		zap.String("account_id", credential.AccountID),
		zap.String("email", logger.MaskEmail(email)),
	)
	return credential.AccountID, nil
}

func (p *Provider) authenticate(ctx context.Context, email, password string) (*domain.Credential, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, port.ErrBadCredentials
	}

	credential, err := p.credentials.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, port.ErrBadCredentials
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}

	ok, err := p.hasher.Verify(password, credential.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, port.ErrBadCredentials
	}
	return credential, nil
}

func (p *Provider) sendPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	credential, err := p.credentials.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Unknown addresses look identical to known ones from the outside.
			p.logger.Debug("password reset for unknown email", zap.String("email", logger.MaskEmail(email)))
			return nil
		}
		return fmt.Errorf("load credential: %w", err)
	}

	if p.events == nil {
		return nil
	}
	event := domain.PasswordResetRequestedEvent{
		EventID:           uuid.NewString(),
		AccountID:         credential.AccountID,
		Email:             credential.Email,
		MaskedDestination: logger.MaskEmail(credential.Email),
		RequestedAt:       p.now().UTC(),
	}
	if err := p.events.PublishPasswordResetRequested(ctx, event); err != nil {
		return fmt.Errorf("publish password reset: %w", err)
	}
	return nil
}

func (p *Provider) issueBearer(accountID domain.AccountID) (domain.BearerCredential, error) {
	if p.bearer == nil {
		return domain.BearerCredential{}, fmt.Errorf("bearer signer not configured")
	}
	token, expiresAt, err := p.bearer.Issue(accountID)
	if err != nil {
		return domain.BearerCredential{}, err
	}
	return domain.BearerCredential{Token: token, ExpiresAt: expiresAt}, nil
}

var (
	_ PasswordHasher = (*security.PasswordHasher)(nil)
	_ BearerSigner   = (*security.BearerIssuer)(nil)
)
