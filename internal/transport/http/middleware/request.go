package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/wre314954-sudo/wirenew/internal/infra/logger"
)

const (
	// RequestIDHeader carries the caller's correlation id; one is generated when absent.
	RequestIDHeader = "X-Request-ID"
	// TraceIDHeader echoes the trace the request was recorded under.
	TraceIDHeader = "X-Trace-ID"

	scopeKey = "storefront_scope"
)

// Flow names the auth surface a route belongs to.
type Flow string

const (
	FlowCustomer Flow = "customer"
	FlowAdmin    Flow = "admin"
	FlowRelay    Flow = "relay"
	FlowSystem   Flow = "system"
)

// FlowOf classifies a route template. Unknown routes are system traffic.
func FlowOf(route string) Flow {
	switch {
	case strings.HasPrefix(route, "/api/v1/customer"):
		return FlowCustomer
	case strings.HasPrefix(route, "/api/v1/admin/relay"):
		return FlowRelay
	case strings.HasPrefix(route, "/api/v1/admin"):
		return FlowAdmin
	default:
		return FlowSystem
	}
}

// RequestScope is what the middleware chain learns about one request.
type RequestScope struct {
	RequestID string
	TraceID   string
	Flow      Flow
	Route     string
	DeviceID  string
	AccountID string
	IP        string
	UserAgent string
	// ErrorCode is the machine readable code of a rejected request.
	ErrorCode string
}

// Scope opens the request scope. The trace id follows the active span when tracing is on.
func Scope() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		traceID := c.GetHeader(TraceIDHeader)
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}

		route := c.FullPath()
		scope := &RequestScope{
			RequestID: requestID,
			TraceID:   traceID,
			Flow:      FlowOf(route),
			Route:     route,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		c.Set(scopeKey, scope)
		c.Header(RequestIDHeader, requestID)
		c.Header(TraceIDHeader, traceID)

		c.Request = c.Request.WithContext(context.WithValue(ctx, logger.RequestIDKey{}, requestID))
		c.Next()
	}
}

// CurrentScope returns the scope opened by Scope, or an empty one.
func CurrentScope(c *gin.Context) *RequestScope {
	if value, exists := c.Get(scopeKey); exists {
		if scope, ok := value.(*RequestScope); ok {
			return scope
		}
	}
	return &RequestScope{Flow: FlowOf(c.FullPath()), Route: c.FullPath()}
}

// GetTraceID returns the trace id of the request.
func GetTraceID(c *gin.Context) string {
	return CurrentScope(c).TraceID
}

// RecordErrorCode marks the request as rejected with code. Metrics and access logs read it.
func RecordErrorCode(c *gin.Context, code string) {
	if value, exists := c.Get(scopeKey); exists {
		if scope, ok := value.(*RequestScope); ok {
			scope.ErrorCode = code
		}
	}
}
