package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wre314954-sudo/wirenew/internal/transport/http/middleware"
	"github.com/wre314954-sudo/wirenew/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Code    string
	Message string
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}
	_ = c.Error(err)

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			resp := NewErrorResponse(c, cs.Message)
			resp.Code = cs.Code
			middleware.RecordErrorCode(c, cs.Code)
			c.JSON(cs.Status, resp)
			return
		}
	}

	middleware.RecordErrorCode(c, unmappedErrorCode)
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

const unmappedErrorCode = "unexpected_error"

// authErrorCases covers every sentinel the auth flows return.
// ErrInvalidCodeFormat precedes ErrValidation because it wraps it.
var authErrorCases = []ErrorCase{
	caseFor(usecase.ErrInvalidCodeFormat, http.StatusBadRequest, "invalid_code_format"),
	caseFor(usecase.ErrValidation, http.StatusBadRequest, "validation_failed"),
	caseFor(usecase.ErrNoPendingVerification, http.StatusConflict, "no_pending_verification"),
	caseFor(usecase.ErrExpired, http.StatusGone, "code_expired"),
	caseFor(usecase.ErrTooManyAttempts, http.StatusTooManyRequests, "too_many_attempts"),
	caseFor(usecase.ErrIncorrectCode, http.StatusUnprocessableEntity, "incorrect_code"),
	caseFor(usecase.ErrAlreadyRegistered, http.StatusConflict, "already_registered"),
	caseFor(usecase.ErrNotFound, http.StatusNotFound, "account_not_found"),
	caseFor(usecase.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"),
	caseFor(usecase.ErrNotAuthorized, http.StatusForbidden, "not_authorized"),
	caseFor(usecase.ErrNotAuthenticated, http.StatusUnauthorized, "not_authenticated"),
	caseFor(usecase.ErrBackend, http.StatusServiceUnavailable, "backend_unavailable"),
}

func caseFor(err error, status int, code string) ErrorCase {
	return ErrorCase{Err: err, Status: status, Code: code, Message: usecase.UserMessage(err)}
}

func respondAuthError(c *gin.Context, err error) {
	RespondWithMappedError(c, err, authErrorCases, http.StatusInternalServerError, usecase.UserMessage(err))
}
