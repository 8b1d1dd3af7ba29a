package domain

import "time"

// IdentityResolvedEvent represents the payload for storefront.identity.resolved messages.
// Order and inquiry services use it to refresh data scoped to the account.
type IdentityResolvedEvent struct {
	EventID    string
	AccountID  AccountID
	DeviceID   string
	ResolvedAt time.Time
}

// IdentityClearedEvent represents the payload for storefront.identity.cleared messages.
type IdentityClearedEvent struct {
	EventID   string
	DeviceID  string
	ClearedAt time.Time
}

// CustomerVerifiedEvent represents the payload for storefront.customer.verified messages.
type CustomerVerifiedEvent struct {
	EventID    string
	AccountID  AccountID
	Purpose    VerificationPurpose
	Phone      string
	VerifiedAt time.Time
}

// PasswordResetRequestedEvent represents the payload for storefront.customer.password.reset_requested messages.
type PasswordResetRequestedEvent struct {
	EventID           string
	AccountID         AccountID
	Email             string
	MaskedDestination string
	RequestedAt       time.Time
}

// AdminLoginEvent represents the payload for storefront.admin.login messages.
type AdminLoginEvent struct {
	EventID   string
	AccountID AccountID
	Succeeded bool
	Reason    string
	At        time.Time
}
