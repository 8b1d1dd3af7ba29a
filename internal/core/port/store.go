package port

import (
	"context"
	"time"
)

// KeyValueStore is the durable per-device key/value namespace.
// Get returns repository.ErrNotFound for missing keys.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
}

// KeyValueStoreFactory returns the namespace owned by a device.
type KeyValueStoreFactory func(deviceID string) KeyValueStore

// DependentDataRefresher triggers reloads of order and inquiry data scoped to an account.
type DependentDataRefresher interface {
	Refresh(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}
