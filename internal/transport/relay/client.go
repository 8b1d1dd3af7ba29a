// Package relay builds authenticated calls to the store API on behalf of the admin console.
// The bearer credential is always passed in by the caller; the client never reads it from a cache.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/infra/logger"
)

var (
	// ErrNoCredential indicates the caller passed a missing or expired bearer credential.
	ErrNoCredential = errors.New("relay: bearer credential required")
	// ErrUpstream indicates the store API answered with a non-success status.
	ErrUpstream = errors.New("relay: upstream error")
)

const maxErrorBody = 4 << 10

// Client issues requests against the store API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *zap.Logger
	now     func() time.Time
}

// NewClient validates baseURL and configures the HTTP client timeout.
func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("relay: parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("relay: unsupported scheme %q", parsed.Scheme)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: parsed,
		http:    &http.Client{Timeout: timeout},
		logger:  log,
		now:     time.Now,
	}, nil
}

// WithHTTPClient swaps the underlying client, primarily for tests.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	if client != nil {
		c.http = client
	}
	return c
}

// WithClock overrides the clock used to check credential expiry.
func (c *Client) WithClock(now func() time.Time) *Client {
	if now != nil {
		c.now = now
	}
	return c
}

// NewRequest builds a request for path carrying credential as a bearer token.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader, credential domain.BearerCredential) (*http.Request, error) {
	if !credential.Valid(c.now()) {
		return nil, ErrNoCredential
	}

	target := c.baseURL.JoinPath(strings.TrimPrefix(path, "/"))
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id, ok := ctx.Value(logger.RequestIDKey{}).(string); ok && id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

// Do sends req and returns the response for 2xx statuses. Other statuses are
// reported as ErrUpstream and the body is closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: %s %s: %w", req.Method, req.URL.Path, err)
	}

	log := logger.WithContext(req.Context(), c.logger)
	log.Debug("relay call",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: %s %s returned %d: %s", ErrUpstream, req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp, nil
}

// PingResult reports the store API's answer to a health ping.
type PingResult struct {
	Status  int           `json:"status"`
	Latency time.Duration `json:"latency"`
}

// Ping checks that the store API accepts credential.
func (c *Client) Ping(ctx context.Context, credential domain.BearerCredential) (PingResult, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, "/health", nil, credential)
	if err != nil {
		return PingResult{}, err
	}

	start := time.Now()
	resp, err := c.Do(req)
	if err != nil {
		return PingResult{}, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return PingResult{Status: resp.StatusCode, Latency: time.Since(start)}, nil
}
