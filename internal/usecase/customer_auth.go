package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/infra/logger"
	"github.com/wre314954-sudo/wirenew/internal/infra/security"
)

const flowCustomer = "customer"

// CustomerAuthDeps bundles the collaborators of one device's customer flow.
type CustomerAuthDeps struct {
	DeviceID  string
	Auth      port.Authenticator
	Directory *Directory
	Cache     *SessionCache
	Refresher port.DependentDataRefresher
	Events    port.EventPublisher
	Notifier  CodeNotifier
	Validator *Validator
	Observer  Observer
	Logger    *zap.Logger
}

// CustomerAuth runs signup, verification, login, phone change, and logout for one device.
// Explicit operations and backend notifications both change state through the same reducer.
type CustomerAuth struct {
	deviceID  string
	auth      port.Authenticator
	directory *Directory
	cache     *SessionCache
	refresher port.DependentDataRefresher
	events    port.EventPublisher
	notifier  CodeNotifier
	validator *Validator
	observer  Observer
	settings  Settings
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	state customerState
}

// NewCustomerAuth constructs the customer flow.
func NewCustomerAuth(deps CustomerAuthDeps, settings Settings) (*CustomerAuth, error) {
	settings = settings.withDefaults()
	validator := deps.Validator
	if validator == nil {
		v, err := NewValidator(settings)
		if err != nil {
			return nil, err
		}
		validator = v
	}
	c := &CustomerAuth{
		deviceID:  deps.DeviceID,
		auth:      deps.Auth,
		directory: deps.Directory,
		cache:     deps.Cache,
		refresher: deps.Refresher,
		events:    deps.Events,
		notifier:  deps.Notifier,
		validator: validator,
		observer:  deps.Observer,
		settings:  settings,
		logger:    deps.Logger,
		now:       time.Now,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("flow", flowCustomer))
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	return c, nil
}

// WithClock overrides the flow clock, primarily for tests.
func (c *CustomerAuth) WithClock(now func() time.Time) *CustomerAuth {
	if now != nil {
		c.now = now
	}
	return c
}

// SignupInput carries the signup form.
type SignupInput struct {
	FullName string
	Email    string
	Password string
	Phone    string
	// ResumeExisting lets an already registered email continue when the password matches.
	ResumeExisting bool
}

// Challenge describes an issued one-time code without revealing it.
type Challenge struct {
	Purpose   domain.VerificationPurpose `json:"purpose"`
	AccountID domain.AccountID           `json:"account_id"`
	Phone     string                     `json:"phone"`
	Attempts  int                        `json:"attempts"`
	ExpiresAt time.Time                  `json:"expires_at"`
}

// LoginResult reports the state reached by Login.
type LoginResult struct {
	AccountID         domain.AccountID `json:"account_id"`
	Authenticated     bool             `json:"authenticated"`
	NeedsVerification bool             `json:"needs_verification"`
	Profile           *domain.Profile  `json:"profile,omitempty"`
}

// CustomerSnapshot is a consistent copy of the customer state.
type CustomerSnapshot struct {
	Authenticated bool             `json:"authenticated"`
	AccountID     domain.AccountID `json:"account_id,omitempty"`
	Profile       *domain.Profile  `json:"profile,omitempty"`
	Pending       *Challenge       `json:"pending,omitempty"`
}

func (c *CustomerAuth) apply(msgs ...customerMsg) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := false
	for _, msg := range msgs {
		if msg.apply(&c.state) {
			changed = true
		}
	}
	return changed
}

func (c *CustomerAuth) read() customerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

func (c *CustomerAuth) observe(op string, err error) {
	c.observer.ObserveAuth(flowCustomer, op, Outcome(err))
}

// Signup creates the credential, records an unverified profile, and issues a signup challenge.
func (c *CustomerAuth) Signup(ctx context.Context, in SignupInput) (ch Challenge, err error) {
	defer func() { c.observe("signup", err) }()

	email, err := c.validator.email(in.Email)
	if err != nil {
		return Challenge{}, err
	}
	phone, err := c.validator.phoneNumber(in.Phone)
	if err != nil {
		return Challenge{}, err
	}
	if err := c.validator.password(in.Password); err != nil {
		return Challenge{}, err
	}
	name := strings.TrimSpace(in.FullName)

	log := logger.WithContext(ctx, c.logger)

	id, err := c.auth.CreateCredential(ctx, email, in.Password)
	switch {
	case err == nil:
	case errors.Is(err, port.ErrEmailInUse):
		if !in.ResumeExisting {
			return Challenge{}, ErrAlreadyRegistered
		}
		id, err = c.resumeSignup(ctx, email, in.Password)
		if err != nil {
			return Challenge{}, err
		}
	default:
		return Challenge{}, backendError("create credential", err)
	}

	patch := domain.ProfilePatch{Email: &email, Phone: &phone, Verified: boolPtr(false)}
	if name != "" {
		patch.DisplayName = &name
	}
	if err := c.directory.Merge(ctx, id, patch); err != nil {
		return Challenge{}, err
	}

	pending, err := c.issue(ctx, domain.VerificationPurposeSignup, id, phone)
	if err != nil {
		return Challenge{}, err
	}

	log.Info("signup challenge issued",
		zap.String("account_id", id),
		zap.String("email", logger.MaskEmail(email)),
		zap.String("phone", logger.MaskPhone(phone)),
	)
	return challengeOf(pending), nil
}

// resumeSignup lets a returning, still unverified registrant continue with the same password.
func (c *CustomerAuth) resumeSignup(ctx context.Context, email, password string) (domain.AccountID, error) {
	id, err := c.auth.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, port.ErrBadCredentials) {
			return "", ErrAlreadyRegistered
		}
		return "", backendError("authenticate", err)
	}

	profile, err := c.directory.Lookup(ctx, id)
	if err != nil {
		return "", err
	}
	if profile != nil && profile.Verified {
		c.signOutQuietly(ctx)
		return "", ErrAlreadyRegistered
	}
	return id, nil
}

// VerifyOTP checks code against the active challenge, whatever its purpose.
func (c *CustomerAuth) VerifyOTP(ctx context.Context, code string) (profile *domain.Profile, err error) {
	defer func() { c.observe("verify_otp", err) }()
	return c.verify(ctx, code, "")
}

// VerifyPhoneOTP checks code against an active phone change challenge.
func (c *CustomerAuth) VerifyPhoneOTP(ctx context.Context, code string) (profile *domain.Profile, err error) {
	defer func() { c.observe("verify_phone_otp", err) }()
	return c.verify(ctx, code, domain.VerificationPurposePhoneChange)
}

func (c *CustomerAuth) verify(ctx context.Context, code string, purpose domain.VerificationPurpose) (*domain.Profile, error) {
	snapshot := c.read()
	pending := snapshot.pending
	if pending == nil || (purpose != "" && pending.Purpose != purpose) {
		return nil, ErrNoPendingVerification
	}

	now := c.now()
	if pending.Expired(now) {
		c.discardPending(ctx, pending.CreatedAt)
		return nil, ErrExpired
	}
	if pending.Attempts >= c.settings.MaxAttempts {
		c.discardPending(ctx, pending.CreatedAt)
		return nil, ErrTooManyAttempts
	}

	code, err := c.validator.code(code)
	if err != nil {
		return nil, err
	}

	if pending.Purpose == domain.VerificationPurposePhoneChange &&
		(!snapshot.authenticated() || snapshot.profile.AccountID != pending.AccountID) {
		c.discardPending(ctx, pending.CreatedAt)
		return nil, ErrNotAuthenticated
	}

	if !security.CodeMatches(code, pending.CodeHash) {
		return nil, c.recordFailedAttempt(ctx, *pending)
	}

	profile, err := c.directory.MergeAndLoad(ctx, pending.AccountID, domain.ProfilePatch{
		Phone:    &pending.Phone,
		Verified: boolPtr(true),
	})
	if err != nil {
		return nil, err
	}

	c.apply(
		backendSignedIn{account: pending.AccountID},
		identityResolved{profile: *profile},
		pendingDiscarded{issuedAt: pending.CreatedAt},
	)
	c.persist(ctx, "clear pending", c.cache.ClearPending)
	c.persist(ctx, "save session", func(ctx context.Context) error { return c.cache.SaveSession(ctx, *profile) })
	c.refresh(ctx, profile.AccountID)

	if c.events != nil {
		event := domain.CustomerVerifiedEvent{
			EventID:    uuid.NewString(),
			AccountID:  profile.AccountID,
			Purpose:    pending.Purpose,
			Phone:      pending.Phone,
			VerifiedAt: now.UTC(),
		}
		if err := c.events.PublishCustomerVerified(ctx, event); err != nil {
			logger.WithContext(ctx, c.logger).Warn("publish customer verified", zap.Error(err))
		}
	}

	logger.WithContext(ctx, c.logger).Info("verification succeeded",
		zap.String("account_id", profile.AccountID),
		zap.String("purpose", string(pending.Purpose)),
	)
	return profile, nil
}

func (c *CustomerAuth) recordFailedAttempt(ctx context.Context, pending domain.PendingVerification) error {
	attempts := pending.Attempts + 1
	c.apply(attemptFailed{issuedAt: pending.CreatedAt, attempts: &attempts})

	if attempts >= c.settings.MaxAttempts {
		c.discardPending(ctx, pending.CreatedAt)
		logger.WithContext(ctx, c.logger).Warn("verification attempts exhausted",
			zap.String("account_id", pending.AccountID),
		)
		return ErrTooManyAttempts
	}

	updated := pending
	updated.Attempts = attempts
	c.persist(ctx, "save pending", func(ctx context.Context) error { return c.cache.SavePending(ctx, updated) })
	return ErrIncorrectCode
}

// Login authenticates by email or by a phone number on file. An unverified account
// gets a backend session but stays unauthenticated until it verifies.
func (c *CustomerAuth) Login(ctx context.Context, identifier, password string) (result LoginResult, err error) {
	defer func() { c.observe("login", err) }()

	identifier = strings.TrimSpace(identifier)
	if password == "" {
		return LoginResult{}, validationError("password is required")
	}

	var (
		email       string
		phoneLookup *domain.Profile
	)
	switch {
	case c.validator.IsEmail(identifier):
		email = strings.ToLower(identifier)
	case c.validator.IsPhone(identifier):
		profile, err := c.directory.ResolvePhone(ctx, identifier)
		if err != nil {
			return LoginResult{}, err
		}
		phoneLookup = profile
		email = profile.Email
	default:
		return LoginResult{}, validationError("enter a valid email address or 10-digit mobile number")
	}

	id, err := c.auth.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, port.ErrBadCredentials) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, backendError("authenticate", err)
	}

	if phoneLookup != nil && phoneLookup.AccountID != id {
		logger.WithContext(ctx, c.logger).Warn("phone lookup resolved to a different account",
			zap.String("phone", logger.MaskPhone(identifier)),
		)
		c.signOutQuietly(ctx)
		return LoginResult{}, ErrInvalidCredentials
	}

	profile, err := c.directory.Lookup(ctx, id)
	if err != nil {
		return LoginResult{}, err
	}

	c.apply(backendSignedIn{account: id})
	result = LoginResult{AccountID: id}

	if profile == nil || !profile.Verified {
		c.persist(ctx, "clear session", c.cache.ClearSession)
		result.NeedsVerification = true
		result.Profile = profile
		return result, nil
	}

	if c.apply(identityResolved{profile: *profile}) {
		c.refresh(ctx, id)
	}
	c.persist(ctx, "save session", func(ctx context.Context) error { return c.cache.SaveSession(ctx, *profile) })

	result.Authenticated = true
	result.Profile = profile
	return result, nil
}

// RequestPasswordReset asks the backend to send a reset mail.
func (c *CustomerAuth) RequestPasswordReset(ctx context.Context, email string) (err error) {
	defer func() { c.observe("password_reset", err) }()

	email, err = c.validator.email(email)
	if err != nil {
		return err
	}
	if err := c.auth.SendPasswordReset(ctx, email); err != nil {
		return backendError("send password reset", err)
	}
	return nil
}

// UpdatePhoneNumber issues a phone change challenge for the signed-in customer.
func (c *CustomerAuth) UpdatePhoneNumber(ctx context.Context, phone string) (ch Challenge, err error) {
	defer func() { c.observe("update_phone", err) }()

	phone, err = c.validator.phoneNumber(phone)
	if err != nil {
		return Challenge{}, err
	}

	snapshot := c.read()
	if !snapshot.authenticated() {
		return Challenge{}, ErrNotAuthenticated
	}
	if snapshot.profile.Phone == phone {
		return Challenge{}, validationError("this number is already on your account")
	}

	pending, err := c.issue(ctx, domain.VerificationPurposePhoneChange, snapshot.profile.AccountID, phone)
	if err != nil {
		return Challenge{}, err
	}
	return challengeOf(pending), nil
}

// ResendCode reissues the active challenge, or a signup challenge for a signed-in but unverified account.
func (c *CustomerAuth) ResendCode(ctx context.Context) (ch Challenge, err error) {
	defer func() { c.observe("resend_code", err) }()

	snapshot := c.read()
	if snapshot.pending != nil {
		pending, err := c.issue(ctx, snapshot.pending.Purpose, snapshot.pending.AccountID, snapshot.pending.Phone)
		if err != nil {
			return Challenge{}, err
		}
		return challengeOf(pending), nil
	}

	if snapshot.backendAccount == "" || snapshot.authenticated() {
		return Challenge{}, ErrNoPendingVerification
	}

	profile, err := c.directory.Lookup(ctx, snapshot.backendAccount)
	if err != nil {
		return Challenge{}, err
	}
	if profile == nil || profile.Phone == "" {
		return Challenge{}, validationError("no phone number on file; sign up again")
	}
	if profile.Verified {
		return Challenge{}, ErrNoPendingVerification
	}

	pending, err := c.issue(ctx, domain.VerificationPurposeSignup, profile.AccountID, profile.Phone)
	if err != nil {
		return Challenge{}, err
	}
	return challengeOf(pending), nil
}

// CancelVerification discards the active challenge, if any.
func (c *CustomerAuth) CancelVerification(ctx context.Context) {
	c.discardPending(ctx, time.Time{})
	c.observe("cancel_verification", nil)
}

// UpdateProfile merges contact details into the signed-in customer's profile.
// Phone, email, and the verification and admin flags cannot be changed here.
func (c *CustomerAuth) UpdateProfile(ctx context.Context, patch domain.ProfilePatch) (profile *domain.Profile, err error) {
	defer func() { c.observe("update_profile", err) }()

	snapshot := c.read()
	if !snapshot.authenticated() {
		return nil, ErrNotAuthenticated
	}

	patch.Email = nil
	patch.Phone = nil
	patch.Verified = nil
	patch.IsAdmin = nil
	patch.LastLoginAt = nil
	if patch.DisplayName != nil {
		name := strings.TrimSpace(*patch.DisplayName)
		if name == "" {
			return nil, validationError("display name cannot be empty")
		}
		patch.DisplayName = &name
	}
	if patch.Empty() {
		return nil, validationError("nothing to update")
	}

	profile, err = c.directory.MergeAndLoad(ctx, snapshot.profile.AccountID, patch)
	if err != nil {
		return nil, err
	}
	c.apply(identityResolved{profile: *profile})
	c.persist(ctx, "save session", func(ctx context.Context) error { return c.cache.SaveSession(ctx, *profile) })
	return profile, nil
}

// Logout always succeeds locally. Backend sign-out failures are logged.
func (c *CustomerAuth) Logout(ctx context.Context) {
	c.apply(signedOut{})
	c.persist(ctx, "clear session", c.cache.ClearSession)
	c.persist(ctx, "clear pending", c.cache.ClearPending)
	if c.refresher != nil {
		if err := c.refresher.Clear(ctx); err != nil {
			logger.WithContext(ctx, c.logger).Warn("clear dependent data", zap.Error(err))
		}
	}
	c.signOutQuietly(ctx)
	c.observe("logout", nil)
}

// HandleAuthState reconciles with a backend notification. It never issues a challenge,
// and errors are logged so the current identity stays as it was.
func (c *CustomerAuth) HandleAuthState(ctx context.Context, state domain.AuthState) {
	log := logger.WithContext(ctx, c.logger)

	if !state.SignedIn {
		if c.apply(signedOut{keepPending: true}) {
			c.persist(ctx, "clear session", c.cache.ClearSession)
			if c.refresher != nil {
				if err := c.refresher.Clear(ctx); err != nil {
					log.Warn("clear dependent data", zap.Error(err))
				}
			}
		}
		return
	}

	profile, err := c.directory.Lookup(ctx, state.AccountID)
	if err != nil {
		log.Warn("load profile for auth state", zap.String("account_id", state.AccountID), zap.Error(err))
		return
	}

	c.apply(backendSignedIn{account: state.AccountID})
	if profile == nil || !profile.Verified {
		c.dropStaleSession(ctx)
		return
	}

	if c.apply(identityResolved{profile: *profile}) {
		c.persist(ctx, "save session", func(ctx context.Context) error { return c.cache.SaveSession(ctx, *profile) })
		c.refresh(ctx, profile.AccountID)
	}
}

// RestoreFromCache installs the cached identity and challenge without contacting the backend.
// It returns the restored account, if any.
func (c *CustomerAuth) RestoreFromCache(ctx context.Context) (domain.AccountID, error) {
	var errs []error

	record, err := c.cache.LoadSession(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	pending, err := c.cache.LoadPending(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	var restored domain.AccountID
	if record != nil {
		profile := record.Profile
		profile.AccountID = record.AccountID
		c.apply(identityResolved{profile: profile})
		restored = record.AccountID
	}
	if pending != nil {
		c.apply(pendingIssued{pending: *pending})
	}

	if len(errs) > 0 {
		return restored, backendError("restore session cache", errors.Join(errs...))
	}
	return restored, nil
}

// Profile returns a copy of the resolved profile, or nil.
func (c *CustomerAuth) Profile() *domain.Profile {
	return c.read().profile
}

// AccountID returns the resolved account, or an empty string.
func (c *CustomerAuth) AccountID() domain.AccountID {
	if p := c.read().profile; p != nil {
		return p.AccountID
	}
	return ""
}

// IsAuthenticated reports whether a verified profile is resolved.
func (c *CustomerAuth) IsAuthenticated() bool {
	return c.read().authenticated()
}

// Pending returns the active challenge without its code hash, or nil.
func (c *CustomerAuth) Pending() *Challenge {
	if p := c.read().pending; p != nil {
		ch := challengeOf(*p)
		return &ch
	}
	return nil
}

// Snapshot returns a consistent view of the customer state.
func (c *CustomerAuth) Snapshot() CustomerSnapshot {
	state := c.read()
	out := CustomerSnapshot{Authenticated: state.authenticated(), Profile: state.profile}
	if state.profile != nil {
		out.AccountID = state.profile.AccountID
	}
	if state.pending != nil {
		ch := challengeOf(*state.pending)
		out.Pending = &ch
	}
	return out
}

func (c *CustomerAuth) issue(ctx context.Context, purpose domain.VerificationPurpose, id domain.AccountID, phone string) (domain.PendingVerification, error) {
	now := c.now().UTC()
	pending := domain.PendingVerification{
		Purpose:   purpose,
		AccountID: id,
		Phone:     phone,
		CodeHash:  security.HashCode(c.settings.TestCode),
		CreatedAt: now,
		ExpiresAt: now.Add(c.settings.CodeTTL),
	}

	c.apply(backendSignedIn{account: id}, pendingIssued{pending: pending})
	c.dropStaleSession(ctx)
	if err := c.cache.SavePending(ctx, pending); err != nil {
		logger.WithContext(ctx, c.logger).Warn("cache pending verification", zap.Error(err))
	}

	delivery := CodeDelivery{
		DeviceID:  c.deviceID,
		AccountID: id,
		Purpose:   string(purpose),
		Phone:     phone,
		Code:      c.settings.TestCode,
		ExpiresAt: pending.ExpiresAt,
	}
	if err := c.notifier.DeliverCode(ctx, delivery); err != nil {
		logger.WithContext(ctx, c.logger).Warn("deliver verification code", zap.Error(err))
	}
	return pending, nil
}

// dropStaleSession removes the cached Session Record once the device holds no verified identity,
// so a cold restore cannot bring back an account the backend has since switched away from.
func (c *CustomerAuth) dropStaleSession(ctx context.Context) {
	if c.read().authenticated() {
		return
	}
	c.persist(ctx, "clear session", c.cache.ClearSession)
}

func (c *CustomerAuth) discardPending(ctx context.Context, issuedAt time.Time) {
	if c.apply(pendingDiscarded{issuedAt: issuedAt}) || issuedAt.IsZero() {
		c.persist(ctx, "clear pending", c.cache.ClearPending)
	}
}

func (c *CustomerAuth) refresh(ctx context.Context, id domain.AccountID) {
	if c.refresher == nil {
		return
	}
	if err := c.refresher.Refresh(ctx, id); err != nil {
		logger.WithContext(ctx, c.logger).Warn("refresh dependent data", zap.String("account_id", id), zap.Error(err))
	}
}

func (c *CustomerAuth) signOutQuietly(ctx context.Context) {
	if err := c.auth.SignOut(ctx); err != nil {
		logger.WithContext(ctx, c.logger).Warn("backend sign out", zap.Error(err))
	}
}

// persist runs a cache write. The in-memory state is authoritative, so failures are logged only.
func (c *CustomerAuth) persist(ctx context.Context, what string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		logger.WithContext(ctx, c.logger).Warn("session cache "+what, zap.Error(err))
	}
}

func challengeOf(p domain.PendingVerification) Challenge {
	return Challenge{
		Purpose:   p.Purpose,
		AccountID: p.AccountID,
		Phone:     p.Phone,
		Attempts:  p.Attempts,
		ExpiresAt: p.ExpiresAt,
	}
}

func boolPtr(v bool) *bool { return &v }
