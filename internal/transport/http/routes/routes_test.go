package routes_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	_ "github.com/wre314954-sudo/wirenew/gen/docs/swagger"
	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/infra/config"
	"github.com/wre314954-sudo/wirenew/internal/infra/security"
	redisrepo "github.com/wre314954-sudo/wirenew/internal/repository/redis"
	"github.com/wre314954-sudo/wirenew/internal/transport/http/middleware"
	httproutes "github.com/wre314954-sudo/wirenew/internal/transport/http/routes"
	"github.com/wre314954-sudo/wirenew/internal/transport/relay"
	"github.com/wre314954-sudo/wirenew/internal/usecase"
)

type failingDevices struct{}

func (failingDevices) Get(context.Context, string) (*usecase.Device, error) {
	return nil, usecase.ErrInvalidDevice
}

// bareDevices resolves any id to an empty device, enough for requests rejected before the flow runs.
type bareDevices struct{}

func (bareDevices) Get(_ context.Context, id string) (*usecase.Device, error) {
	return &usecase.Device{ID: id}, nil
}

type nopRelay struct{}

func (nopRelay) Ping(context.Context, domain.BearerCredential) (relay.PingResult, error) {
	return relay.PingResult{Status: http.StatusOK}, nil
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		App:  config.AppSettings{Env: "test", AllowedOrigins: []string{"*"}},
		Auth: config.AuthSettings{AdminAccountID: "admin-1"},
		RateLimit: config.RateLimitSettings{
			WindowDuration:   time.Minute,
			LoginMaxAttempts: 2,
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}

	r := httproutes.Register(httproutes.Dependencies{
		Config: cfg,
		Logger: zaptest.NewLogger(t),
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestReadyzWaitsForStartup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ready := false

	r := httproutes.Register(httproutes.Dependencies{
		Config: testConfig(),
		Logger: zaptest.NewLogger(t),
		Ready:  func() bool { return ready },
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before startup, got %d", w.Code)
	}

	ready = true
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after startup, got %d", w.Code)
	}
}

func TestMetricsEndpointUsesGatherer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("NewHTTPMetrics: %v", err)
	}

	r := httproutes.Register(httproutes.Dependencies{
		Config:      testConfig(),
		Logger:      zaptest.NewLogger(t),
		HTTPMetrics: metrics,
		Gatherer:    registry,
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, "storefront_http_requests_total") {
		t.Fatalf("metrics output missing request counter:\n%s", body)
	}
}

func TestCustomerRoutesRequireDevice(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := httproutes.Register(httproutes.Dependencies{
		Config:  testConfig(),
		Logger:  zaptest.NewLogger(t),
		Devices: failingDevices{},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/customer/session", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without device header, got %d", w.Code)
	}
}

func TestAdminRelayRequiresPrivilegedBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuer, err := security.NewBearerIssuer("routes-secret", "test", time.Hour)
	if err != nil {
		t.Fatalf("NewBearerIssuer: %v", err)
	}

	r := httproutes.Register(httproutes.Dependencies{
		Config:  testConfig(),
		Logger:  zaptest.NewLogger(t),
		Devices: failingDevices{},
		Bearer:  issuer,
		Relay:   nopRelay{},
	})

	customerToken, _, _ := issuer.Issue("customer-1")
	adminToken, _, _ := issuer.Issue("admin-1")

	for token, want := range map[string]int{
		"":            http.StatusUnauthorized,
		customerToken: http.StatusForbidden,
		adminToken:    http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/relay/ping", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
		}
	}
}

func TestAdminLoginIsRateLimitedPerIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := red.NewClient(&red.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := redisrepo.NewRateLimitRepository(client, redisrepo.SlidingWindowConfig{KeyPrefix: "test:rl"})
	limiter := middleware.NewRateLimiter(store, zaptest.NewLogger(t))

	r := httproutes.Register(httproutes.Dependencies{
		Config:      testConfig(),
		Logger:      zaptest.NewLogger(t),
		RateLimiter: limiter,
		Devices:     bareDevices{},
	})

	// The empty body fails binding, so the first two attempts are 400s.
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/login", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		req.Header.Set(middleware.DeviceIDHeader, "device-routes-0001")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third login to be rate limited, got %v", codes)
	}
}

func TestDocsServeOpenAPIDocument(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := httproutes.Register(httproutes.Dependencies{Config: testConfig(), Logger: zaptest.NewLogger(t)})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/docs/doc.json", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	for _, path := range []string{"/api/v1/customer/signup", "/api/v1/admin/relay/ping", "middleware.ProblemDetails"} {
		if !strings.Contains(w.Body.String(), path) {
			t.Fatalf("document missing %s", path)
		}
	}
}

func TestDocsHiddenInProduction(t *testing.T) {
	cfg := testConfig()
	cfg.App.Env = "production"
	r := httproutes.Register(httproutes.Dependencies{Config: cfg, Logger: zaptest.NewLogger(t)})
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/docs/doc.json", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected docs to be hidden, got %d", w.Code)
	}
}
