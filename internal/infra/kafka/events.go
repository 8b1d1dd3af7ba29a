package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/infra/config"
	"github.com/wre314954-sudo/wirenew/internal/infra/logger"
)

const schemaVersion = "1.0"

const (
	EventIdentityResolved       = "identity.resolved"
	EventIdentityCleared        = "identity.cleared"
	EventCustomerVerified       = "customer.verified"
	EventPasswordResetRequested = "customer.password.reset_requested"
	EventAdminLogin             = "admin.login"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	AccountID string           `json:"account_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

// publish keys messages by account when known, otherwise by device, so per-identity ordering holds.
func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, accountID, partitionKey string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		AccountID: accountID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	if partitionKey == "" {
		partitionKey = accountID
	}

	if err := p.producer.Send(ctx, p.producer.TopicName(eventType), partitionKey, bytes); err != nil {
		logger.WithContext(ctx, p.logger).Warn("event enqueue aborted",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// PublishIdentityResolved publishes storefront.identity.resolved events.
func (p *EventPublisher) PublishIdentityResolved(ctx context.Context, event domain.IdentityResolvedEvent) error {
	payload := struct {
		AccountID  string    `json:"account_id"`
		DeviceID   string    `json:"device_id,omitempty"`
		ResolvedAt time.Time `json:"resolved_at"`
	}{
		AccountID:  event.AccountID,
		DeviceID:   event.DeviceID,
		ResolvedAt: event.ResolvedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventIdentityResolved, event.AccountID, "", event.ResolvedAt, payload)
}

// PublishIdentityCleared publishes storefront.identity.cleared events.
func (p *EventPublisher) PublishIdentityCleared(ctx context.Context, event domain.IdentityClearedEvent) error {
	payload := struct {
		DeviceID  string    `json:"device_id,omitempty"`
		ClearedAt time.Time `json:"cleared_at"`
	}{
		DeviceID:  event.DeviceID,
		ClearedAt: event.ClearedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventIdentityCleared, "", event.DeviceID, event.ClearedAt, payload)
}

// PublishCustomerVerified publishes storefront.customer.verified events.
func (p *EventPublisher) PublishCustomerVerified(ctx context.Context, event domain.CustomerVerifiedEvent) error {
	payload := struct {
		AccountID   string    `json:"account_id"`
		Purpose     string    `json:"purpose"`
		MaskedPhone string    `json:"masked_phone,omitempty"`
		VerifiedAt  time.Time `json:"verified_at"`
	}{
		AccountID:   event.AccountID,
		Purpose:     string(event.Purpose),
		MaskedPhone: logger.MaskPhone(event.Phone),
		VerifiedAt:  event.VerifiedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventCustomerVerified, event.AccountID, "", event.VerifiedAt, payload)
}

// PublishPasswordResetRequested publishes storefront.customer.password.reset_requested events.
// The mail service owns delivery; only the account and a masked destination leave this service.
func (p *EventPublisher) PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error {
	payload := struct {
		AccountID         string    `json:"account_id"`
		Email             string    `json:"email"`
		MaskedDestination string    `json:"masked_destination,omitempty"`
		RequestedAt       time.Time `json:"requested_at"`
	}{
		AccountID:         event.AccountID,
		Email:             event.Email,
		MaskedDestination: event.MaskedDestination,
		RequestedAt:       event.RequestedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventPasswordResetRequested, event.AccountID, "", event.RequestedAt, payload)
}

// PublishAdminLogin publishes storefront.admin.login audit events.
func (p *EventPublisher) PublishAdminLogin(ctx context.Context, event domain.AdminLoginEvent) error {
	payload := struct {
		AccountID string    `json:"account_id,omitempty"`
		Succeeded bool      `json:"succeeded"`
		Reason    string    `json:"reason,omitempty"`
		At        time.Time `json:"at"`
	}{
		AccountID: event.AccountID,
		Succeeded: event.Succeeded,
		Reason:    event.Reason,
		At:        event.At.UTC(),
	}

	return p.publish(ctx, event.EventID, EventAdminLogin, event.AccountID, "admin", event.At, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
