package domain

import "time"

// VerificationPurpose distinguishes the flows that issue one-time codes.
type VerificationPurpose string

const (
	VerificationPurposeSignup      VerificationPurpose = "signup"
	VerificationPurposePhoneChange VerificationPurpose = "phone_change"
)

// PendingVerification is the transient one-time-code challenge for a device.
// CodeHash is the only representation of the expected code that is ever stored.
type PendingVerification struct {
	Purpose   VerificationPurpose `json:"purpose"`
	AccountID AccountID           `json:"account_id"`
	Phone     string              `json:"phone"`
	CodeHash  string              `json:"code_hash"`
	Attempts  int                 `json:"attempts"`
	CreatedAt time.Time           `json:"created_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// Expired reports whether the challenge is no longer valid at the supplied instant.
func (p PendingVerification) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// SessionRecord is the cached mirror of the last resolved customer identity.
type SessionRecord struct {
	AccountID AccountID `json:"account_id"`
	Profile   Profile   `json:"profile"`
	SavedAt   time.Time `json:"saved_at"`
}

// AdminSessionRecord is the cached admin authentication flag.
type AdminSessionRecord struct {
	Authenticated bool      `json:"authenticated"`
	AccountID     AccountID `json:"account_id"`
	SavedAt       time.Time `json:"saved_at"`
}

// BearerCredential is a short-lived token handed to the store API relay.
type BearerCredential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the credential is usable at the supplied instant.
func (c BearerCredential) Valid(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt)
}

// AuthState is a notification emitted by the authentication backend whenever the
// signed-in account of a device changes (or is re-announced on subscription).
type AuthState struct {
	SignedIn  bool
	AccountID AccountID
	Email     string
}
