package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/repository"
)

// Directory is the only writer of profile records. Writes are merges; absent attributes are left alone.
type Directory struct {
	profiles port.ProfileRepository
	now      func() time.Time
}

// NewDirectory wraps a profile repository.
func NewDirectory(profiles port.ProfileRepository) *Directory {
	return &Directory{profiles: profiles, now: time.Now}
}

// WithClock overrides the directory clock, primarily for tests.
func (d *Directory) WithClock(now func() time.Time) *Directory {
	if now != nil {
		d.now = now
	}
	return d
}

// Lookup returns the profile for id, or nil when none exists.
func (d *Directory) Lookup(ctx context.Context, id domain.AccountID) (*domain.Profile, error) {
	profile, err := d.profiles.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, backendError("load profile", err)
	}
	return profile, nil
}

// Merge applies patch to the profile of id, creating it when absent.
func (d *Directory) Merge(ctx context.Context, id domain.AccountID, patch domain.ProfilePatch) error {
	if err := d.profiles.Merge(ctx, id, patch, d.now().UTC()); err != nil {
		return backendError("merge profile", err)
	}
	return nil
}

// MergeAndLoad merges patch and returns the stored result.
func (d *Directory) MergeAndLoad(ctx context.Context, id domain.AccountID, patch domain.ProfilePatch) (*domain.Profile, error) {
	if err := d.Merge(ctx, id, patch); err != nil {
		return nil, err
	}
	profile, err := d.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, backendError("load profile", errors.New("profile missing after merge"))
	}
	return profile, nil
}

// ResolvePhone returns the profile registered for phone or ErrNotFound.
func (d *Directory) ResolvePhone(ctx context.Context, phone string) (*domain.Profile, error) {
	profile, err := d.profiles.FindByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, backendError("lookup phone", err)
	}
	if profile.Email == "" {
		return nil, ErrNotFound
	}
	return profile, nil
}
