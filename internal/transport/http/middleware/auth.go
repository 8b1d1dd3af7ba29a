package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/infra/security"
)

const (
	// AccountIDKey is the gin context key for the account proven by a bearer credential.
	AccountIDKey = "account_id"

	bearerTokenKey      = "bearer_token"
	bearerCredentialKey = "bearer_credential"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func abortWithError(c *gin.Context, status int, code, msg string) {
	RecordErrorCode(c, code)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code, TraceID: GetTraceID(c)})
}

// BearerParser validates a bearer credential and returns its claims.
type BearerParser interface {
	Parse(token string) (*security.BearerClaims, error)
}

// RequireAdminBearer admits only requests carrying a valid bearer credential
// issued to the privileged admin account.
func RequireAdminBearer(parser BearerParser, adminAccountID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			return
		}

		claims, err := parser.Parse(token)
		if err != nil {
			switch {
			case errors.Is(err, security.ErrBearerExpired):
				abortWithError(c, http.StatusUnauthorized, "bearer_expired", "bearer credential expired")
			case errors.Is(err, security.ErrBearerInvalid):
				abortWithError(c, http.StatusUnauthorized, "bearer_invalid", "invalid bearer credential")
			default:
				abortWithError(c, http.StatusInternalServerError, "bearer_unverifiable", "authentication failed")
			}
			return
		}

		if adminAccountID == "" || claims.AccountID != adminAccountID {
			abortWithError(c, http.StatusForbidden, "not_authorized", "not authorized for admin access")
			return
		}

		c.Set(AccountIDKey, claims.AccountID)
		c.Set(bearerTokenKey, token)
		credential := domain.BearerCredential{Token: token}
		if claims.ExpiresAt != nil {
			credential.ExpiresAt = claims.ExpiresAt.Time
		}
		c.Set(bearerCredentialKey, credential)
		CurrentScope(c).AccountID = claims.AccountID

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		abortWithError(c, http.StatusUnauthorized, "bearer_missing", "missing authorization header")
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		abortWithError(c, http.StatusUnauthorized, "bearer_malformed", "invalid authorization format: expected 'Bearer <token>'")
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		abortWithError(c, http.StatusUnauthorized, "bearer_missing", "missing bearer credential")
		return "", false
	}
	return token, true
}

// GetBearerToken returns the credential accepted by RequireAdminBearer.
func GetBearerToken(c *gin.Context) (string, bool) {
	value, exists := c.Get(bearerTokenKey)
	if !exists {
		return "", false
	}
	token, ok := value.(string)
	return token, ok && token != ""
}

// GetBearerCredential returns the accepted credential together with its expiry.
func GetBearerCredential(c *gin.Context) (domain.BearerCredential, bool) {
	value, exists := c.Get(bearerCredentialKey)
	if !exists {
		return domain.BearerCredential{}, false
	}
	credential, ok := value.(domain.BearerCredential)
	return credential, ok && credential.Token != ""
}

// GetAuthenticatedAccountID returns the account proven by the bearer credential.
func GetAuthenticatedAccountID(c *gin.Context) (string, bool) {
	value, exists := c.Get(AccountIDKey)
	if !exists {
		return "", false
	}
	id, ok := value.(string)
	return id, ok && id != ""
}
