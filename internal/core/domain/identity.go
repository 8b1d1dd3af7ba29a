package domain

import "time"

// AccountID is the stable identifier issued by the authentication backend for one credential.
type AccountID = string

// Address holds the free-form postal fields a customer keeps on file.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Company holds optional business details used on quotes and invoices.
type Company struct {
	Name  string `json:"name,omitempty"`
	TaxID string `json:"tax_id,omitempty"`
}

// Profile mirrors the persisted representation in the profiles table.
type Profile struct {
	AccountID   AccountID  `json:"account_id"`
	DisplayName string     `json:"display_name,omitempty"`
	Email       string     `json:"email,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	Address     Address    `json:"address"`
	Company     Company    `json:"company"`
	Verified    bool       `json:"verified"`
	IsAdmin     bool       `json:"is_admin"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// ProfilePatch describes a merge write. Nil fields are left untouched.
type ProfilePatch struct {
	DisplayName *string
	Email       *string
	Phone       *string
	Address     *Address
	Company     *Company
	Verified    *bool
	IsAdmin     *bool
	LastLoginAt *time.Time
}

// Empty reports whether the patch carries no attribute changes.
func (p ProfilePatch) Empty() bool {
	return p.DisplayName == nil && p.Email == nil && p.Phone == nil && p.Address == nil &&
		p.Company == nil && p.Verified == nil && p.IsAdmin == nil && p.LastLoginAt == nil
}

// Apply returns a copy of profile with the patch merged in.
func (p ProfilePatch) Apply(profile Profile) Profile {
	if p.DisplayName != nil {
		profile.DisplayName = *p.DisplayName
	}
	if p.Email != nil {
		profile.Email = *p.Email
	}
	if p.Phone != nil {
		profile.Phone = *p.Phone
	}
	if p.Address != nil {
		profile.Address = *p.Address
	}
	if p.Company != nil {
		profile.Company = *p.Company
	}
	if p.Verified != nil {
		profile.Verified = *p.Verified
	}
	if p.IsAdmin != nil {
		profile.IsAdmin = *p.IsAdmin
	}
	if p.LastLoginAt != nil {
		at := *p.LastLoginAt
		profile.LastLoginAt = &at
	}
	return profile
}

// Credential is a registered email/password pair owned by the authentication backend.
type Credential struct {
	AccountID    AccountID
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
