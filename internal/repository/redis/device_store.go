package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/repository"
)

const defaultDevicePrefix = "device"

// DeviceStoreRepository persists per-device key/value namespaces in Redis.
type DeviceStoreRepository struct {
	client *red.Client
	prefix string
}

// NewDeviceStoreRepository constructs a repository rooted at prefix.
func NewDeviceStoreRepository(client *red.Client, prefix string) *DeviceStoreRepository {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultDevicePrefix
	}
	return &DeviceStoreRepository{client: client, prefix: prefix}
}

// ForDevice returns the namespace owned by deviceID.
func (r *DeviceStoreRepository) ForDevice(deviceID string) port.KeyValueStore {
	return &DeviceStore{repo: r, deviceID: deviceID}
}

// DeviceStore is the key/value namespace of one device.
type DeviceStore struct {
	repo     *DeviceStoreRepository
	deviceID string
}

// Get returns the stored value or repository.ErrNotFound.
func (s *DeviceStore) Get(ctx context.Context, key string) (string, error) {
	redisKey, err := s.key(key)
	if err != nil {
		return "", err
	}

	value, err := s.repo.client.Get(ctx, redisKey).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis get: %w", err)
	}
	return value, nil
}

// Set stores value under key. A non-positive ttl keeps the value until removed.
func (s *DeviceStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	redisKey, err := s.key(key)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}

	if err := s.repo.client.Set(ctx, redisKey, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Remove deletes key. Missing keys are not an error.
func (s *DeviceStore) Remove(ctx context.Context, key string) error {
	redisKey, err := s.key(key)
	if err != nil {
		return err
	}

	if err := s.repo.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *DeviceStore) key(key string) (string, error) {
	if strings.TrimSpace(s.deviceID) == "" {
		return "", errors.New("device id is required")
	}
	if strings.TrimSpace(key) == "" {
		return "", errors.New("key is required")
	}
	return fmt.Sprintf("%s:%s:%s", s.repo.prefix, s.deviceID, key), nil
}

var _ port.KeyValueStore = (*DeviceStore)(nil)
