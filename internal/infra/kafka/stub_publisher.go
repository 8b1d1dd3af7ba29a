package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, accountID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published", append([]zap.Field{
		zap.String("event_type", eventType),
		zap.String("account_id", accountID),
		zap.Time("timestamp", at.UTC()),
	}, fields...)...)
}

func (p *StubPublisher) PublishIdentityResolved(_ context.Context, event domain.IdentityResolvedEvent) error {
	p.logEvent(EventIdentityResolved, event.AccountID, event.ResolvedAt, zap.String("device_id", event.DeviceID))
	return nil
}

func (p *StubPublisher) PublishIdentityCleared(_ context.Context, event domain.IdentityClearedEvent) error {
	p.logEvent(EventIdentityCleared, "", event.ClearedAt, zap.String("device_id", event.DeviceID))
	return nil
}

func (p *StubPublisher) PublishCustomerVerified(_ context.Context, event domain.CustomerVerifiedEvent) error {
	p.logEvent(EventCustomerVerified, event.AccountID, event.VerifiedAt,
		zap.String("purpose", string(event.Purpose)),
		zap.String("phone", logger.MaskPhone(event.Phone)),
	)
	return nil
}

func (p *StubPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	p.logEvent(EventPasswordResetRequested, event.AccountID, event.RequestedAt,
		zap.String("destination", event.MaskedDestination),
	)
	return nil
}

func (p *StubPublisher) PublishAdminLogin(_ context.Context, event domain.AdminLoginEvent) error {
	p.logEvent(EventAdminLogin, event.AccountID, event.At,
		zap.Bool("succeeded", event.Succeeded),
		zap.String("reason", event.Reason),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
