package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/wre314954-sudo/wirenew/internal/infra/logger"
	"github.com/wre314954-sudo/wirenew/internal/usecase"
)

// LoggingNotificationDispatcher records code dispatch events without delivering them.
// The plaintext code is logged only in development.
type LoggingNotificationDispatcher struct {
	logger *zap.Logger
	isDev  bool
}

// NewLoggingNotificationDispatcher constructs a notification dispatcher backed by structured logging.
func NewLoggingNotificationDispatcher(log *zap.Logger, isDev bool) *LoggingNotificationDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggingNotificationDispatcher{logger: log, isDev: isDev}
}

// DeliverCode implements usecase.CodeNotifier.
func (d *LoggingNotificationDispatcher) DeliverCode(ctx context.Context, delivery usecase.CodeDelivery) error {
	if d == nil || d.logger == nil {
		return nil
	}

	fields := []zap.Field{
		zap.String("purpose", delivery.Purpose),
		zap.String("account_id", delivery.AccountID),
		zap.String("phone", logger.MaskPhone(delivery.Phone)),
		zap.Time("expires_at", delivery.ExpiresAt),
	}
	if d.isDev && delivery.Code != "" {
		fields = append(fields, zap.String("dev_code", delivery.Code))
	}

	logger.WithContext(ctx, d.logger).Info("dispatch verification code", fields...)
	return nil
}

var _ usecase.CodeNotifier = (*LoggingNotificationDispatcher)(nil)
