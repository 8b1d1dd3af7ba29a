package usecase

import (
	"context"
	"time"
)

// Settings holds the well-known values the auth flows run with.
type Settings struct {
	TestCode          string
	CodeLength        int
	CodeTTL           time.Duration
	MaxAttempts       int
	PhonePattern      string
	MinPasswordLength int
	MinPasswordScore  int
	AdminAccountID    string
}

// DefaultSettings returns the storefront defaults.
func DefaultSettings() Settings {
	return Settings{
		TestCode:          "123456",
		CodeLength:        6,
		CodeTTL:           10 * time.Minute,
		MaxAttempts:       4,
		PhonePattern:      `^[6-9][0-9]{9}$`,
		MinPasswordLength: 6,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.TestCode == "" {
		s.TestCode = def.TestCode
	}
	if s.CodeLength <= 0 {
		s.CodeLength = def.CodeLength
	}
	if s.CodeTTL <= 0 {
		s.CodeTTL = def.CodeTTL
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = def.MaxAttempts
	}
	if s.PhonePattern == "" {
		s.PhonePattern = def.PhonePattern
	}
	if s.MinPasswordLength <= 0 {
		s.MinPasswordLength = def.MinPasswordLength
	}
	return s
}

// Observer receives flow outcomes and device counts. telemetry.AuthMetrics satisfies it.
type Observer interface {
	ObserveAuth(flow, operation, outcome string)
	SetActiveDevices(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveAuth(string, string, string) {}
func (nopObserver) SetActiveDevices(int)               {}

// CodeNotifier delivers an issued one-time code to the customer.
type CodeNotifier interface {
	DeliverCode(ctx context.Context, delivery CodeDelivery) error
}

// CodeDelivery is what a notifier needs to reach the customer.
type CodeDelivery struct {
	DeviceID  string
	AccountID string
	Purpose   string
	Phone     string
	Code      string
	ExpiresAt time.Time
}

type nopNotifier struct{}

func (nopNotifier) DeliverCode(context.Context, CodeDelivery) error { return nil }
