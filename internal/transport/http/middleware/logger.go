package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appLogger "github.com/wre314954-sudo/wirenew/internal/infra/logger"
)

// Logger writes one access log line per request, tagged with the auth flow and masked client data.
func Logger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		scope := CurrentScope(c)
		route := scope.Route
		if route == "" {
			route = "unmatched"
		}

		fields := []zap.Field{
			zap.String("request_id", scope.RequestID),
			zap.String("trace_id", scope.TraceID),
			zap.String("flow", string(scope.Flow)),
			zap.String("route", route),
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", appLogger.MaskIP(c.ClientIP())),
		}
		if scope.DeviceID != "" {
			fields = append(fields, zap.String("device_id", scope.DeviceID))
		}
		if scope.AccountID != "" {
			fields = append(fields, zap.String("account_id", scope.AccountID))
		}
		if scope.ErrorCode != "" {
			fields = append(fields, zap.String("error_code", scope.ErrorCode))
		}
		if scope.UserAgent != "" {
			fields = append(fields, zap.String("user_agent", scope.UserAgent))
		}

		switch {
		case len(c.Errors) > 0:
			log.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
		case c.Writer.Status() >= 500:
			log.Warn("request completed with server error", fields...)
		default:
			log.Info("request completed", fields...)
		}
	}
}
