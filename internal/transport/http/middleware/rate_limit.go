package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/infra/logger"
)

const (
	rateLimitProblemType = "https://storefront.wirenew.example/problems/too-many-attempts"
	rateLimitedCode      = "rate_limited"
)

// IdentifierFunc extracts who a limit applies to: a client IP or a device.
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule limits one auth operation. Name namespaces the stored window, e.g. customer_login_ip.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

// RateLimiter guards the signup, login, verification and reset routes.
type RateLimiter struct {
	store  port.AttemptLimiter
	logger *zap.Logger
	now    func() time.Time
}

// ProblemDetails is the RFC 9457 body of a rate limited response.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	Code       string `json:"code"`
	Flow       Flow   `json:"flow"`
	Rule       string `json:"rule"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

type verdict struct {
	rule       RateLimitRule
	window     port.AttemptWindow
	remaining  int
	reset      time.Time
	retryAfter int
}

func NewRateLimiter(store port.AttemptLimiter, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{store: store, logger: log, now: time.Now}
}

// WithClock overrides the limiter clock, primarily for tests.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier scopes limits to the client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		return ip, ip != ""
	}
}

// DeviceIdentifier scopes limits to the calling device, falling back to the client IP.
func DeviceIdentifier() IdentifierFunc {
	clientIP := ClientIPIdentifier()
	return func(c *gin.Context) (string, bool) {
		if deviceID := c.GetHeader(DeviceIDHeader); deviceID != "" {
			return "device:" + deviceID, true
		}
		return clientIP(c)
	}
}

// RateLimit enforces rules in order. The first exhausted rule answers 429; store failures let the request through.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	active := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		active = append(active, rule)
	}

	return func(c *gin.Context) {
		if len(active) == 0 || rl.store == nil {
			c.Next()
			return
		}

		now := rl.now()
		var tightest *verdict
		for _, rule := range active {
			identifier, ok := rule.Identifier(c)
			if !ok {
				continue
			}

			window, err := rl.store.Admit(c.Request.Context(), rule.Name+":"+identifier, rule.Limit, rule.Window, now)
			if err != nil {
				logger.WithContext(c.Request.Context(), rl.logger).Warn("rate limit check failed, letting request through",
					zap.String("rule", rule.Name),
					zap.String("flow", string(CurrentScope(c).Flow)),
					zap.Error(err),
				)
				continue
			}

			v := newVerdict(rule, window, now)
			if !window.Allowed {
				rl.reject(c, v)
				return
			}
			if tightest == nil || v.remaining < tightest.remaining {
				tightest = &v
			}
		}

		if tightest != nil {
			setRateLimitHeaders(c, *tightest)
		}
		c.Next()
	}
}

func newVerdict(rule RateLimitRule, window port.AttemptWindow, now time.Time) verdict {
	reset := window.Oldest.Add(rule.Window)
	if window.Oldest.IsZero() {
		reset = now.Add(rule.Window)
	}
	return verdict{
		rule:       rule,
		window:     window,
		remaining:  max(rule.Limit-window.Count, 0),
		reset:      reset,
		retryAfter: max(int(math.Ceil(reset.Sub(now).Seconds())), 0),
	}
}

func setRateLimitHeaders(c *gin.Context, v verdict) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(v.rule.Limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(v.remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(v.reset.Unix(), 10))
}

func (rl *RateLimiter) reject(c *gin.Context, v verdict) {
	setRateLimitHeaders(c, v)
	c.Header("Retry-After", strconv.Itoa(v.retryAfter))

	scope := CurrentScope(c)
	RecordErrorCode(c, rateLimitedCode)
	logger.WithContext(c.Request.Context(), rl.logger).Info("rate limited",
		zap.String("rule", v.rule.Name),
		zap.String("flow", string(scope.Flow)),
		zap.String("client_ip", logger.MaskIP(c.ClientIP())),
		zap.Int("retry_after", v.retryAfter),
	)

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      "Too many attempts",
		Status:     http.StatusTooManyRequests,
		Detail:     rateLimitDetail(scope.Flow, v.retryAfter),
		Instance:   scope.Route,
		Code:       rateLimitedCode,
		Flow:       scope.Flow,
		Rule:       v.rule.Name,
		RetryAfter: v.retryAfter,
		TraceID:    scope.TraceID,
	})
}

func rateLimitDetail(flow Flow, retryAfter int) string {
	switch flow {
	case FlowAdmin:
		return fmt.Sprintf("Too many admin sign-in attempts. Try again in %d seconds.", retryAfter)
	case FlowCustomer:
		return fmt.Sprintf("Too many attempts from this device or network. Try again in %d seconds.", retryAfter)
	default:
		return fmt.Sprintf("Too many requests. Try again in %d seconds.", retryAfter)
	}
}
