package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/infra/authprovider"
	"github.com/wre314954-sudo/wirenew/internal/infra/kafka"
	"github.com/wre314954-sudo/wirenew/internal/infra/security"
	"github.com/wre314954-sudo/wirenew/internal/repository"
	redisrepo "github.com/wre314954-sudo/wirenew/internal/repository/redis"
	"github.com/wre314954-sudo/wirenew/internal/transport/http/middleware"
	"github.com/wre314954-sudo/wirenew/internal/transport/relay"
	"github.com/wre314954-sudo/wirenew/internal/usecase"
)

const (
	testDevice   = "device-handlers-0001"
	testPassword = "s3cret-pass"
)

type memoryCredentials struct {
	mu      sync.Mutex
	byEmail map[string]domain.Credential
}

func (m *memoryCredentials) Create(_ context.Context, credential domain.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[credential.Email]; exists {
		return repository.ErrConflict
	}
	m.byEmail[credential.Email] = credential
	return nil
}

func (m *memoryCredentials) GetByEmail(_ context.Context, email string) (*domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	credential, ok := m.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &credential, nil
}

func (m *memoryCredentials) GetByID(_ context.Context, id domain.AccountID) (*domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, credential := range m.byEmail {
		if credential.AccountID == id {
			c := credential
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

type memoryProfiles struct {
	mu       sync.Mutex
	profiles map[string]domain.Profile
}

func (m *memoryProfiles) Get(_ context.Context, id domain.AccountID) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &profile, nil
}

func (m *memoryProfiles) Merge(_ context.Context, id domain.AccountID, patch domain.ProfilePatch, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
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

type fakeRelay struct {
	mu   sync.Mutex
	seen []domain.BearerCredential
	err  error
}

func (f *fakeRelay) Ping(_ context.Context, credential domain.BearerCredential) (relay.PingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, credential)
	if f.err != nil {
		return relay.PingResult{}, f.err
	}
	return relay.PingResult{Status: http.StatusOK, Latency: 3 * time.Millisecond}, nil
}

type harness struct {
	router   *gin.Engine
	provider *authprovider.Provider
	profiles *memoryProfiles
	devices  *usecase.Registry
	relay    *fakeRelay
	adminID  string
}

// newHarness wires the real flows over in-memory repositories and a miniredis device store.
// When withAdmin is set an admin credential is created before the registry is built.
func newHarness(t *testing.T, withAdmin bool) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)

	mr := miniredis.RunT(t)
	client := red.NewClient(&red.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	stores := redisrepo.NewDeviceStoreRepository(client, "test:device")

	argon := security.DefaultArgon2Config()
	argon.Memory = 8 * 1024
	argon.Parallelism = 1
	hasher, err := security.NewPasswordHasher(argon)
	if err != nil {
		t.Fatalf("NewPasswordHasher: %v", err)
	}
	bearer, err := security.NewBearerIssuer("handler-secret", "test", time.Hour)
	if err != nil {
		t.Fatalf("NewBearerIssuer: %v", err)
	}

	events := kafka.NewStubPublisher(log)
	provider := authprovider.NewProvider(&memoryCredentials{byEmail: map[string]domain.Credential{}}, hasher, bearer, events, log)
	profiles := &memoryProfiles{profiles: map[string]domain.Profile{}}

	h := &harness{provider: provider, profiles: profiles, relay: &fakeRelay{}}

	settings := usecase.DefaultSettings()
	if withAdmin {
		setup := provider.ForDevice("setup", stores.ForDevice("setup"))
		id, err := setup.CreateCredential(context.Background(), "admin@wirenew.example", testPassword)
		if err != nil {
			t.Fatalf("create admin credential: %v", err)
		}
		setup.Close()
		h.adminID = id
		settings.AdminAccountID = id
	}

	devices, err := usecase.NewRegistry(usecase.RegistryDeps{
		Stores: stores.ForDevice,
		Authenticators: func(deviceID string, store port.KeyValueStore) usecase.DeviceAuthenticator {
			return provider.ForDevice(deviceID, store)
		},
		Profiles: profiles,
		Events:   events,
		Notifier: NewLoggingNotificationDispatcher(log, true),
		Logger:   log,
	}, settings)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(devices.Close)
	h.devices = devices

	router := gin.New()
	router.Use(middleware.Scope())
	api := router.Group("/api/v1")

	customer := api.Group("/customer", middleware.RequireDevice(devices))
	NewCustomerHandler().RegisterRoutes(customer, CustomerRouteLimits{})

	NewAdminHandler(h.relay).RegisterRoutes(api.Group("/admin"), AdminRouteOptions{
		Device: middleware.RequireDevice(devices),
		Bearer: middleware.RequireAdminBearer(bearer, settings.AdminAccountID),
	})
	h.router = router
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if _, ok := headers[middleware.DeviceIDHeader]; !ok {
		req.Header.Set(middleware.DeviceIDHeader, testDevice)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}
