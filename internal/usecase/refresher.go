package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/core/port"
)

// EventRefresher asks the order and inquiry services to reload data for a device
// by publishing identity events.
type EventRefresher struct {
	deviceID string
	events   port.EventPublisher
	now      func() time.Time
}

// NewEventRefresher returns a refresher for deviceID.
func NewEventRefresher(deviceID string, events port.EventPublisher) *EventRefresher {
	return &EventRefresher{deviceID: deviceID, events: events, now: time.Now}
}

func (r *EventRefresher) Refresh(ctx context.Context, id domain.AccountID) error {
	if r.events == nil {
		return nil
	}
	return r.events.PublishIdentityResolved(ctx, domain.IdentityResolvedEvent{
		EventID:    uuid.NewString(),
		AccountID:  id,
		DeviceID:   r.deviceID,
		ResolvedAt: r.now().UTC(),
	})
}

func (r *EventRefresher) Clear(ctx context.Context) error {
	if r.events == nil {
		return nil
	}
	return r.events.PublishIdentityCleared(ctx, domain.IdentityClearedEvent{
		EventID:   uuid.NewString(),
		DeviceID:  r.deviceID,
		ClearedAt: r.now().UTC(),
	})
}

var _ port.DependentDataRefresher = (*EventRefresher)(nil)
