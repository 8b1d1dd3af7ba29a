package port

import (
	"context"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishIdentityResolved(ctx context.Context, event domain.IdentityResolvedEvent) error
	PublishIdentityCleared(ctx context.Context, event domain.IdentityClearedEvent) error
	PublishCustomerVerified(ctx context.Context, event domain.CustomerVerifiedEvent) error
	PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error
	PublishAdminLogin(ctx context.Context, event domain.AdminLoginEvent) error
}
