package port

import (
	"context"
	"time"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
)

// ProfileRepository exposes persistence behavior for profile records.
type ProfileRepository interface {
	Get(ctx context.Context, id domain.AccountID) (*domain.Profile, error)
	// Merge creates the record when absent and otherwise updates only the attributes present in patch.
	Merge(ctx context.Context, id domain.AccountID, patch domain.ProfilePatch, at time.Time) error
	FindByPhone(ctx context.Context, phone string) (*domain.Profile, error)
}
