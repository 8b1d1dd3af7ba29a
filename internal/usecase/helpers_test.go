package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/repository"
)

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: testNow} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeAccount struct {
	id       string
	password string
}

// fakeAuth is an in-memory authentication backend. Notifications are only sent through emit.
type fakeAuth struct {
	mu        sync.Mutex
	accounts  map[string]fakeAccount
	signedIn  string
	listeners map[int]port.AuthStateListener
	nextID    int

	calls       int
	signOuts    int
	closed      bool
	authErr     error
	signOutErr  error
	bearerErr   error
	resetEmails []string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{accounts: make(map[string]fakeAccount), listeners: make(map[int]port.AuthStateListener)}
}

func (f *fakeAuth) addAccount(email, password string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.accounts[email] = fakeAccount{id: id, password: password}
	return id
}

func (f *fakeAuth) CreateCredential(_ context.Context, email, password string) (domain.AccountID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.authErr != nil {
		return "", f.authErr
	}
	if _, ok := f.accounts[email]; ok {
		return "", port.ErrEmailInUse
	}
	id := uuid.NewString()
	f.accounts[email] = fakeAccount{id: id, password: password}
	f.signedIn = id
	return id, nil
}

func (f *fakeAuth) Authenticate(_ context.Context, email, password string) (domain.AccountID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.authErr != nil {
		return "", f.authErr
	}
	account, ok := f.accounts[email]
	if !ok || account.password != password {
		return "", port.ErrBadCredentials
	}
	f.signedIn = account.id
	return account.id, nil
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	if f.signOutErr != nil {
		return f.signOutErr
	}
	f.signedIn = ""
	return nil
}

func (f *fakeAuth) Subscribe(listener port.AuthStateListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = listener
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeAuth) IssueBearerCredential(context.Context) (domain.BearerCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bearerErr != nil {
		return domain.BearerCredential{}, f.bearerErr
	}
	if f.signedIn == "" {
		return domain.BearerCredential{}, port.ErrNotSignedIn
	}
	return domain.BearerCredential{Token: "bearer-" + f.signedIn, ExpiresAt: testNow.Add(time.Hour)}, nil
}

func (f *fakeAuth) SendPasswordReset(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.resetEmails = append(f.resetEmails, email)
	return nil
}

func (f *fakeAuth) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeAuth) emit(ctx context.Context, state domain.AuthState) {
	f.mu.Lock()
	listeners := make([]port.AuthStateListener, 0, len(f.listeners))
	for id := 1; id <= f.nextID; id++ {
		if l, ok := f.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	f.mu.Unlock()
	for _, l := range listeners {
		l(ctx, state)
	}
}

func (f *fakeAuth) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeAuth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memoryProfiles struct {
	mu       sync.Mutex
	profiles map[string]domain.Profile
	merges   int
	mergeErr error
	getErr   error
}

func newMemoryProfiles() *memoryProfiles {
	return &memoryProfiles{profiles: make(map[string]domain.Profile)}
}

func (m *memoryProfiles) Get(_ context.Context, id domain.AccountID) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	profile, ok := m.profiles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &profile, nil
}

func (m *memoryProfiles) Merge(_ context.Context, id domain.AccountID, patch domain.ProfilePatch, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mergeErr != nil {
		return m.mergeErr
	}
	m.merges++
	profile, ok := m.profiles[id]
	if !ok {
		profile = domain.Profile{AccountID: id, CreatedAt: at}
	}
	profile = patch.Apply(profile)
	profile.UpdatedAt = at
	m.profiles[id] = profile
	return nil
}

func (m *memoryProfiles) FindByPhone(_ context.Context, phone string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, profile := range m.profiles {
		if profile.Phone == phone {
			p := profile
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryProfiles) put(profile domain.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[profile.AccountID] = profile
}

func (m *memoryProfiles) mergeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.merges
}

type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	// beforeSet runs outside the lock ahead of every write.
	beforeSet func(key string)
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return "", repository.ErrNotFound
	}
	return value, nil
}

func (m *memoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	hook := m.beforeSet
	m.mu.Unlock()
	if hook != nil {
		hook(key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.ttls, key)
	return nil
}

func (m *memoryStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}

func (m *memoryStore) raw(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}

type recordingRefresher struct {
	mu        sync.Mutex
	refreshed []string
	cleared   int
	done      chan string
}

func (r *recordingRefresher) Refresh(_ context.Context, id string) error {
	r.mu.Lock()
	r.refreshed = append(r.refreshed, id)
	done := r.done
	r.mu.Unlock()
	if done != nil {
		done <- id
	}
	return nil
}

func (r *recordingRefresher) Clear(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
	return nil
}

func (r *recordingRefresher) refreshCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refreshed)
}

type recordingEvents struct {
	mu       sync.Mutex
	resolved []domain.IdentityResolvedEvent
	cleared  []domain.IdentityClearedEvent
	verified []domain.CustomerVerifiedEvent
	admin    []domain.AdminLoginEvent
}

func (r *recordingEvents) PublishIdentityResolved(_ context.Context, event domain.IdentityResolvedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, event)
	return nil
}

func (r *recordingEvents) PublishIdentityCleared(_ context.Context, event domain.IdentityClearedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, event)
	return nil
}

func (r *recordingEvents) PublishCustomerVerified(_ context.Context, event domain.CustomerVerifiedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verified = append(r.verified, event)
	return nil
}

func (r *recordingEvents) PublishPasswordResetRequested(context.Context, domain.PasswordResetRequestedEvent) error {
	return nil
}

func (r *recordingEvents) PublishAdminLogin(_ context.Context, event domain.AdminLoginEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admin = append(r.admin, event)
	return nil
}

type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []CodeDelivery
}

func (r *recordingNotifier) DeliverCode(_ context.Context, delivery CodeDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, delivery)
	return nil
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
	devices  int
}

func (r *recordingObserver) ObserveAuth(flow, operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[flow+"/"+operation+"/"+outcome]++
}

func (r *recordingObserver) SetActiveDevices(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = n
}

type customerHarness struct {
	flow      *CustomerAuth
	auth      *fakeAuth
	profiles  *memoryProfiles
	store     *memoryStore
	cache     *SessionCache
	refresher *recordingRefresher
	events    *recordingEvents
	notifier  *recordingNotifier
	observer  *recordingObserver
	clock     *testClock
}

func newCustomerHarness(t *testing.T) *customerHarness {
	t.Helper()

	h := &customerHarness{
		auth:      newFakeAuth(),
		profiles:  newMemoryProfiles(),
		store:     newMemoryStore(),
		refresher: &recordingRefresher{},
		events:    &recordingEvents{},
		notifier:  &recordingNotifier{},
		observer:  &recordingObserver{},
		clock:     newTestClock(),
	}
	log := zaptest.NewLogger(t)
	h.cache = NewSessionCache(h.store, log).WithClock(h.clock.Now)

	flow, err := NewCustomerAuth(CustomerAuthDeps{
		DeviceID:  "device-test-1",
		Auth:      h.auth,
		Directory: NewDirectory(h.profiles).WithClock(h.clock.Now),
		Cache:     h.cache,
		Refresher: h.refresher,
		Events:    h.events,
		Notifier:  h.notifier,
		Observer:  h.observer,
		Logger:    log,
	}, DefaultSettings())
	if err != nil {
		t.Fatalf("NewCustomerAuth: %v", err)
	}
	h.flow = flow.WithClock(h.clock.Now)
	return h
}

func (h *customerHarness) signupAndVerify(t *testing.T, email, password, phone string) *domain.Profile {
	t.Helper()
	ctx := context.Background()
	if _, err := h.flow.Signup(ctx, SignupInput{FullName: "Asha Rao", Email: email, Password: password, Phone: phone}); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	profile, err := h.flow.VerifyOTP(ctx, "123456")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	return profile
}
