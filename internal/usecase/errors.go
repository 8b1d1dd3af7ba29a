package usecase

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed input. It is raised before any backend call.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCodeFormat indicates the submitted code is not the expected number of digits.
	ErrInvalidCodeFormat = fmt.Errorf("%w: invalid code format", ErrValidation)
	// ErrNoPendingVerification indicates there is no active one-time-code challenge.
	ErrNoPendingVerification = errors.New("no pending verification")
	// ErrExpired indicates the pending challenge passed its expiry and was discarded.
	ErrExpired = errors.New("verification code expired")
	// ErrTooManyAttempts indicates the attempt limit was reached and the challenge was discarded.
	ErrTooManyAttempts = errors.New("too many verification attempts")
	// ErrIncorrectCode indicates the submitted code did not match.
	ErrIncorrectCode = errors.New("incorrect verification code")
	// ErrAlreadyRegistered indicates the email already has an account that signup cannot resume.
	ErrAlreadyRegistered = errors.New("email already registered")
	// ErrNotFound indicates no account matches the supplied phone number.
	ErrNotFound = errors.New("account not found")
	// ErrInvalidCredentials indicates the backend rejected the email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotAuthorized indicates a non-privileged account attempted admin login.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrNotAuthenticated indicates the operation needs a verified customer session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrBackend wraps provider, directory, and cache failures surfaced opaquely.
	ErrBackend = errors.New("backend unavailable")
)

// UserMessage returns a short actionable message for errors returned by the auth flows.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCodeFormat):
		return "Enter the 6-digit code we sent you."
	case errors.Is(err, ErrValidation):
		return "Please check the highlighted details and try again."
	case errors.Is(err, ErrNoPendingVerification):
		return "There is no code waiting to be verified. Request a new code."
	case errors.Is(err, ErrExpired):
		return "This code has expired. Request a new code."
	case errors.Is(err, ErrTooManyAttempts):
		return "Too many incorrect attempts. Request a new code."
	case errors.Is(err, ErrIncorrectCode):
		return "That code is incorrect. Try again."
	case errors.Is(err, ErrAlreadyRegistered):
		return "This email is already registered. Please log in instead."
	case errors.Is(err, ErrNotFound):
		return "No account is registered with that phone number."
	case errors.Is(err, ErrInvalidCredentials):
		return "Incorrect email, phone, or password."
	case errors.Is(err, ErrNotAuthorized):
		return "This account is not authorized for admin access."
	case errors.Is(err, ErrNotAuthenticated):
		return "Please log in to continue."
	default:
		return "Something went wrong. Please try again shortly."
	}
}

// Outcome classifies err into a low-cardinality label for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidCodeFormat), errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNoPendingVerification):
		return "no_pending"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, ErrIncorrectCode):
		return "incorrect_code"
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	default:
		return "backend_error"
	}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func backendError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrBackend, op, err)
}
