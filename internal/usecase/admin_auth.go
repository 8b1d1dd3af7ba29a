package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/infra/logger"
)

const flowAdmin = "admin"

// AdminAuthDeps bundles the collaborators of one device's admin flow.
type AdminAuthDeps struct {
	Auth      port.Authenticator
	Directory *Directory
	Cache     *SessionCache
	Events    port.EventPublisher
	Validator *Validator
	Observer  Observer
	Logger    *zap.Logger
}

// AdminAuth gates admin access on a single privileged account.
type AdminAuth struct {
	auth       port.Authenticator
	directory  *Directory
	cache      *SessionCache
	events     port.EventPublisher
	validator  *Validator
	observer   Observer
	privileged domain.AccountID
	logger     *zap.Logger
	now        func() time.Time

	mu            sync.Mutex
	authenticated bool
	accountID     domain.AccountID
	bearer        *domain.BearerCredential
}

// NewAdminAuth constructs the admin flow. An empty AdminAccountID rejects every login.
func NewAdminAuth(deps AdminAuthDeps, settings Settings) (*AdminAuth, error) {
	settings = settings.withDefaults()
	validator := deps.Validator
	if validator == nil {
		v, err := NewValidator(settings)
		if err != nil {
			return nil, err
		}
		validator = v
	}
	a := &AdminAuth{
		auth:       deps.Auth,
		directory:  deps.Directory,
		cache:      deps.Cache,
		events:     deps.Events,
		validator:  validator,
		observer:   deps.Observer,
		privileged: settings.AdminAccountID,
		logger:     deps.Logger,
		now:        time.Now,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	a.logger = a.logger.With(zap.String("flow", flowAdmin))
	if a.observer == nil {
		a.observer = nopObserver{}
	}
	return a, nil
}

// WithClock overrides the flow clock, primarily for tests.
func (a *AdminAuth) WithClock(now func() time.Time) *AdminAuth {
	if now != nil {
		a.now = now
	}
	return a
}

// AdminSnapshot is a consistent copy of the admin state. The bearer token itself is not included.
type AdminSnapshot struct {
	Authenticated   bool             `json:"authenticated"`
	AccountID       domain.AccountID `json:"account_id,omitempty"`
	BearerExpiresAt *time.Time       `json:"bearer_expires_at,omitempty"`
}

func (a *AdminAuth) isPrivilegedID(id domain.AccountID) bool {
	return a.privileged != "" && id == a.privileged
}

// Login authenticates and admits only the privileged account.
func (a *AdminAuth) Login(ctx context.Context, email, password string) (snapshot AdminSnapshot, err error) {
	defer func() { a.observer.ObserveAuth(flowAdmin, "login", Outcome(err)) }()

	email, err = a.validator.email(email)
	if err != nil {
		return AdminSnapshot{}, err
	}
	if password == "" {
		return AdminSnapshot{}, validationError("password is required")
	}

	log := logger.WithContext(ctx, a.logger)

	id, err := a.auth.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, port.ErrBadCredentials) {
			return AdminSnapshot{}, ErrInvalidCredentials
		}
		return AdminSnapshot{}, backendError("authenticate", err)
	}

	if !a.isPrivilegedID(id) {
		log.Warn("admin login rejected", zap.String("account_id", id), zap.String("email", logger.MaskEmail(email)))
		a.reject(ctx)
		a.publish(ctx, id, false, "not_privileged")
		return AdminSnapshot{}, ErrNotAuthorized
	}

	now := a.now().UTC()
	profile, err := a.directory.Lookup(ctx, id)
	if err == nil {
		patch := domain.ProfilePatch{LastLoginAt: &now}
		if profile == nil {
			patch.Email = &email
			patch.IsAdmin = boolPtr(true)
		}
		err = a.directory.Merge(ctx, id, patch)
	}
	if err != nil {
		log.Error("admin profile upsert failed", zap.String("account_id", id), zap.Error(err))
		a.reject(ctx)
		a.publish(ctx, id, false, "profile_write_failed")
		return AdminSnapshot{}, err
	}

	bearer := a.issueBearer(ctx)

	a.mu.Lock()
	a.authenticated = true
	a.accountID = id
	a.bearer = bearer
	a.mu.Unlock()

	if err := a.cache.SaveAdmin(ctx, id); err != nil {
		log.Warn("cache admin session", zap.Error(err))
	}
	a.publish(ctx, id, true, "")

	log.Info("admin login succeeded", zap.String("account_id", id))
	return a.Snapshot(), nil
}

// issueBearer is best effort: admin access works without a relay credential.
func (a *AdminAuth) issueBearer(ctx context.Context) *domain.BearerCredential {
	log := logger.WithContext(ctx, a.logger)
	credential, err := a.auth.IssueBearerCredential(ctx)
	if err != nil {
		log.Warn("issue bearer credential", zap.Error(err))
		return nil
	}
	if err := a.cache.SaveBearer(ctx, credential); err != nil {
		log.Warn("cache bearer credential", zap.Error(err))
	}
	return &credential
}

// Logout clears admin state locally and signs the backend out. It always succeeds.
func (a *AdminAuth) Logout(ctx context.Context) {
	a.clear(ctx)
	if err := a.auth.SignOut(ctx); err != nil {
		logger.WithContext(ctx, a.logger).Warn("backend sign out", zap.Error(err))
	}
	a.observer.ObserveAuth(flowAdmin, "logout", Outcome(nil))
}

// HandleAuthState re-validates the cached admin flag against a backend notification.
// The flag survives only for the privileged account with an admin profile.
func (a *AdminAuth) HandleAuthState(ctx context.Context, state domain.AuthState) {
	a.mu.Lock()
	cached := a.authenticated
	a.mu.Unlock()

	if !state.SignedIn || !a.isPrivilegedID(state.AccountID) {
		if cached {
			a.clear(ctx)
		}
		return
	}
	if !cached {
		return
	}

	profile, err := a.directory.Lookup(ctx, state.AccountID)
	if err != nil {
		logger.WithContext(ctx, a.logger).Warn("load admin profile for auth state", zap.Error(err))
		return
	}
	if profile == nil || !profile.IsAdmin {
		a.clear(ctx)
		return
	}

	a.mu.Lock()
	if !a.authenticated {
		a.mu.Unlock()
		return
	}
	a.accountID = state.AccountID
	needsBearer := a.bearer == nil || !a.bearer.Valid(a.now())
	a.mu.Unlock()

	if err := a.cache.SaveAdmin(ctx, state.AccountID); err != nil {
		logger.WithContext(ctx, a.logger).Warn("cache admin session", zap.Error(err))
	}
	if needsBearer {
		if bearer := a.issueBearer(ctx); bearer != nil {
			a.mu.Lock()
			if a.authenticated {
				a.bearer = bearer
			}
			a.mu.Unlock()
		}
	}
	a.dropIfSignedOut(ctx)
}

// dropIfSignedOut removes cache records written after a concurrent logout cleared the session.
func (a *AdminAuth) dropIfSignedOut(ctx context.Context) {
	if a.IsAuthenticated() {
		return
	}
	if err := a.cache.ClearAdmin(ctx); err != nil {
		logger.WithContext(ctx, a.logger).Warn("clear admin cache", zap.Error(err))
	}
}

// RestoreFromCache optimistically restores the admin flag for the privileged account.
// The next backend notification confirms or revokes it.
func (a *AdminAuth) RestoreFromCache(ctx context.Context) error {
	record, err := a.cache.LoadAdmin(ctx)
	if err != nil {
		return backendError("restore admin cache", err)
	}
	if record == nil || !record.Authenticated {
		return nil
	}
	if !a.isPrivilegedID(record.AccountID) {
		a.clear(ctx)
		return nil
	}

	bearer, err := a.cache.LoadBearer(ctx)
	if err != nil {
		logger.WithContext(ctx, a.logger).Warn("restore bearer credential", zap.Error(err))
	}

	a.mu.Lock()
	a.authenticated = true
	a.accountID = record.AccountID
	a.bearer = bearer
	a.mu.Unlock()
	return nil
}

// IsAuthenticated reports whether the device holds an admin session.
func (a *AdminAuth) IsAuthenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticated
}

// AccountID returns the admin account, or an empty string.
func (a *AdminAuth) AccountID() domain.AccountID {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.authenticated {
		return ""
	}
	return a.accountID
}

// IsPrivileged reports whether the authenticated account is the privileged one.
func (a *AdminAuth) IsPrivileged() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticated && a.isPrivilegedID(a.accountID)
}

// BearerCredential returns the relay credential when one is held and still valid.
func (a *AdminAuth) BearerCredential() (domain.BearerCredential, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.authenticated || a.bearer == nil || !a.bearer.Valid(a.now()) {
		return domain.BearerCredential{}, false
	}
	return *a.bearer, true
}

// Snapshot returns a consistent view of the admin state.
func (a *AdminAuth) Snapshot() AdminSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.authenticated {
		return AdminSnapshot{}
	}
	out := AdminSnapshot{Authenticated: true, AccountID: a.accountID}
	if a.bearer != nil && a.bearer.Valid(a.now()) {
		at := a.bearer.ExpiresAt
		out.BearerExpiresAt = &at
	}
	return out
}

func (a *AdminAuth) reject(ctx context.Context) {
	if err := a.auth.SignOut(ctx); err != nil {
		logger.WithContext(ctx, a.logger).Warn("backend sign out after rejected admin login", zap.Error(err))
	}
	a.clear(ctx)
}

func (a *AdminAuth) clear(ctx context.Context) {
	a.mu.Lock()
	a.authenticated = false
	a.accountID = ""
	a.bearer = nil
	a.mu.Unlock()

	if err := a.cache.ClearAdmin(ctx); err != nil {
		logger.WithContext(ctx, a.logger).Warn("clear admin cache", zap.Error(err))
	}
}

func (a *AdminAuth) publish(ctx context.Context, id domain.AccountID, succeeded bool, reason string) {
	if a.events == nil {
		return
	}
	event := domain.AdminLoginEvent{
		EventID:   uuid.NewString(),
		AccountID: id,
		Succeeded: succeeded,
		Reason:    reason,
		At:        a.now().UTC(),
	}
	if err := a.events.PublishAdminLogin(ctx, event); err != nil {
		logger.WithContext(ctx, a.logger).Warn("publish admin login", zap.Error(err))
	}
}
