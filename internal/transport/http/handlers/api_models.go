package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/transport/http/middleware"
	"github.com/wre314954-sudo/wirenew/internal/usecase"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response carrying the request's trace id.
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// SignupRequest defines the customer signup payload.
type SignupRequest struct {
	FullName       string `json:"full_name" binding:"required"`
	Email          string `json:"email" binding:"required"`
	Password       string `json:"password" binding:"required"`
	Phone          string `json:"phone" binding:"required"`
	ResumeExisting bool   `json:"resume_existing"`
}

// ChallengeResponse describes an issued one-time code.
type ChallengeResponse struct {
	Message   string                     `json:"message"`
	Purpose   domain.VerificationPurpose `json:"purpose"`
	AccountID string                     `json:"account_id"`
	Phone     string                     `json:"phone"`
	ExpiresAt time.Time                  `json:"expires_at"`
}

// VerifyRequest carries a submitted one-time code.
type VerifyRequest struct {
	Code string `json:"code" binding:"required"`
}

// CustomerLoginRequest accepts an email address or a registered phone number.
type CustomerLoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// CustomerLoginResponse reports the state reached by login.
type CustomerLoginResponse struct {
	AccountID         string          `json:"account_id"`
	Authenticated     bool            `json:"authenticated"`
	NeedsVerification bool            `json:"needs_verification"`
	Profile           *domain.Profile `json:"profile,omitempty"`
}

// PasswordResetRequest starts the backend password reset for an email address.
type PasswordResetRequest struct {
	Email string `json:"email" binding:"required"`
}

// PhoneChangeRequest starts a phone change.
type PhoneChangeRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// ProfileUpdateRequest lists the attributes a customer may edit. Absent fields are untouched.
type ProfileUpdateRequest struct {
	DisplayName *string         `json:"display_name"`
	Address     *domain.Address `json:"address"`
	Company     *domain.Company `json:"company"`
}

// ProfileResponse wraps the customer profile.
type ProfileResponse struct {
	Profile *domain.Profile `json:"profile"`
}

// AdminLoginRequest defines the admin console login payload.
type AdminLoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RelayPingResponse reports the store API ping result.
type RelayPingResponse struct {
	Status    int   `json:"status"`
	LatencyMS int64 `json:"latency_ms"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func newChallengeResponse(message string, ch usecase.Challenge) ChallengeResponse {
	return ChallengeResponse{
		Message:   message,
		Purpose:   ch.Purpose,
		AccountID: ch.AccountID,
		Phone:     ch.Phone,
		ExpiresAt: ch.ExpiresAt,
	}
}
