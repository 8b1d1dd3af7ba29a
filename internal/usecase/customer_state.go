package usecase

import (
	"time"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
)

// customerState is owned by CustomerAuth and only changed through apply.
type customerState struct {
	// backendAccount is the account the auth backend has signed in, verified or not.
	backendAccount domain.AccountID
	profile        *domain.Profile
	pending        *domain.PendingVerification
}

// customerMsg is a state transition. Applying the same message twice leaves the state unchanged.
type customerMsg interface {
	apply(s *customerState) bool
}

// backendSignedIn records the backend session. Switching accounts drops the previous identity.
type backendSignedIn struct{ account domain.AccountID }

func (m backendSignedIn) apply(s *customerState) bool {
	if s.backendAccount == m.account {
		return false
	}
	s.backendAccount = m.account
	if s.profile != nil && s.profile.AccountID != m.account {
		s.profile = nil
	}
	if s.pending != nil && s.pending.AccountID != m.account {
		s.pending = nil
	}
	return true
}

// identityResolved installs a verified profile. Only a newer or equal record replaces the current one.
type identityResolved struct{ profile domain.Profile }

func (m identityResolved) apply(s *customerState) bool {
	if s.profile != nil && s.profile.AccountID == m.profile.AccountID &&
		s.profile.UpdatedAt.After(m.profile.UpdatedAt) {
		return false
	}
	changed := s.profile == nil || s.profile.AccountID != m.profile.AccountID ||
		!s.profile.UpdatedAt.Equal(m.profile.UpdatedAt) || s.profile.Verified != m.profile.Verified
	p := m.profile
	s.profile = &p
	if s.backendAccount == "" {
		s.backendAccount = p.AccountID
	}
	if s.pending != nil && s.pending.AccountID == p.AccountID &&
		s.pending.Purpose == domain.VerificationPurposeSignup && p.Verified {
		s.pending = nil
	}
	return changed
}

// pendingIssued replaces any existing challenge.
type pendingIssued struct{ pending domain.PendingVerification }

func (m pendingIssued) apply(s *customerState) bool {
	p := m.pending
	s.pending = &p
	return true
}

// attemptFailed counts a wrong code against the challenge issued at issuedAt.
type attemptFailed struct {
	issuedAt time.Time
	attempts *int
}

func (m attemptFailed) apply(s *customerState) bool {
	if s.pending == nil || !s.pending.CreatedAt.Equal(m.issuedAt) {
		return false
	}
	s.pending.Attempts++
	if m.attempts != nil {
		*m.attempts = s.pending.Attempts
	}
	return true
}

// pendingDiscarded drops the challenge issued at issuedAt; a zero instant drops any challenge.
type pendingDiscarded struct{ issuedAt time.Time }

func (m pendingDiscarded) apply(s *customerState) bool {
	if s.pending == nil {
		return false
	}
	if !m.issuedAt.IsZero() && !s.pending.CreatedAt.Equal(m.issuedAt) {
		return false
	}
	s.pending = nil
	return true
}

// signedOut clears everything the device knows about the customer.
type signedOut struct{ keepPending bool }

func (m signedOut) apply(s *customerState) bool {
	changed := s.backendAccount != "" || s.profile != nil
	s.backendAccount = ""
	s.profile = nil
	if !m.keepPending && s.pending != nil {
		s.pending = nil
		changed = true
	}
	return changed
}

func (s customerState) authenticated() bool {
	return s.profile != nil && s.profile.Verified
}

func (s customerState) clone() customerState {
	out := customerState{backendAccount: s.backendAccount}
	if s.profile != nil {
		p := *s.profile
		out.profile = &p
	}
	if s.pending != nil {
		p := *s.pending
		out.pending = &p
	}
	return out
}
