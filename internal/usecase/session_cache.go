package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/repository"
)

const (
	keyCustomerSession = "customer.session"
	keyCustomerPending = "customer.pending"
	keyAdminSession    = "admin.session"
	keyAdminBearer     = "admin.bearer"

	// pendingGrace keeps an expired trace around long enough to report expiry instead of absence.
	pendingGrace = time.Hour
)

// SessionCache is the durable mirror of a device's identity state.
// Unreadable entries are removed and reported as absent.
type SessionCache struct {
	store  port.KeyValueStore
	logger *zap.Logger
	now    func() time.Time
}

// NewSessionCache wraps a device key/value namespace.
func NewSessionCache(store port.KeyValueStore, logger *zap.Logger) *SessionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionCache{store: store, logger: logger, now: time.Now}
}

// WithClock overrides the cache clock, primarily for tests.
func (c *SessionCache) WithClock(now func() time.Time) *SessionCache {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *SessionCache) LoadSession(ctx context.Context) (*domain.SessionRecord, error) {
	var record domain.SessionRecord
	ok, err := c.load(ctx, keyCustomerSession, &record)
	if err != nil || !ok || record.AccountID == "" {
		return nil, err
	}
	return &record, nil
}

func (c *SessionCache) SaveSession(ctx context.Context, profile domain.Profile) error {
	record := domain.SessionRecord{AccountID: profile.AccountID, Profile: profile, SavedAt: c.now().UTC()}
	return c.save(ctx, keyCustomerSession, record, 0)
}

func (c *SessionCache) ClearSession(ctx context.Context) error {
	return c.remove(ctx, keyCustomerSession)
}

// LoadPending returns the cached challenge. Only the code hash is ever stored.
func (c *SessionCache) LoadPending(ctx context.Context) (*domain.PendingVerification, error) {
	var pending domain.PendingVerification
	ok, err := c.load(ctx, keyCustomerPending, &pending)
	if err != nil || !ok || pending.CodeHash == "" {
		return nil, err
	}
	return &pending, nil
}

func (c *SessionCache) SavePending(ctx context.Context, pending domain.PendingVerification) error {
	ttl := pending.ExpiresAt.Sub(c.now()) + pendingGrace
	if ttl <= 0 {
		ttl = pendingGrace
	}
	return c.save(ctx, keyCustomerPending, pending, ttl)
}

func (c *SessionCache) ClearPending(ctx context.Context) error {
	return c.remove(ctx, keyCustomerPending)
}

func (c *SessionCache) LoadAdmin(ctx context.Context) (*domain.AdminSessionRecord, error) {
	var record domain.AdminSessionRecord
	ok, err := c.load(ctx, keyAdminSession, &record)
	if err != nil || !ok {
		return nil, err
	}
	return &record, nil
}

func (c *SessionCache) SaveAdmin(ctx context.Context, accountID domain.AccountID) error {
	record := domain.AdminSessionRecord{Authenticated: true, AccountID: accountID, SavedAt: c.now().UTC()}
	return c.save(ctx, keyAdminSession, record, 0)
}

// LoadBearer returns the cached bearer credential if it is still valid.
func (c *SessionCache) LoadBearer(ctx context.Context) (*domain.BearerCredential, error) {
	var credential domain.BearerCredential
	ok, err := c.load(ctx, keyAdminBearer, &credential)
	if err != nil || !ok || !credential.Valid(c.now()) {
		return nil, err
	}
	return &credential, nil
}

func (c *SessionCache) SaveBearer(ctx context.Context, credential domain.BearerCredential) error {
	ttl := credential.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return c.remove(ctx, keyAdminBearer)
	}
	return c.save(ctx, keyAdminBearer, credential, ttl)
}

// ClearAdmin removes the admin record and its bearer credential.
func (c *SessionCache) ClearAdmin(ctx context.Context) error {
	return errors.Join(c.remove(ctx, keyAdminSession), c.remove(ctx, keyAdminBearer))
}

func (c *SessionCache) load(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		c.logger.Warn("discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		_ = c.store.Remove(ctx, key)
		return false, nil
	}
	return true, nil
}

func (c *SessionCache) save(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, string(payload), ttl); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (c *SessionCache) remove(ctx context.Context, key string) error {
	if err := c.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
