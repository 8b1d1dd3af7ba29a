package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wre314954-sudo/wirenew/internal/core/port"
)

// admitScript trims the window, admits the attempt when under the limit, and reports the window state.
// Scores are milliseconds since the epoch.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, ARGV[1], ARGV[4])
  redis.call('PEXPIRE', key, window)
  count = count + 1
  allowed = 1
end

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// SlidingWindowConfig namespaces the limiter keys.
type SlidingWindowConfig struct {
	KeyPrefix string
}

// RateLimitRepository keeps login, signup and verification attempts in Redis sorted sets.
type RateLimitRepository struct {
	client *redis.Client
	cfg    SlidingWindowConfig
}

var _ port.AttemptLimiter = (*RateLimitRepository)(nil)

func NewRateLimitRepository(client *redis.Client, cfg SlidingWindowConfig) *RateLimitRepository {
	return &RateLimitRepository{client: client, cfg: cfg}
}

// Admit runs the sliding window in one script call so concurrent requests cannot overshoot the limit.
func (r *RateLimitRepository) Admit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (port.AttemptWindow, error) {
	if limit <= 0 || window < time.Millisecond {
		return port.AttemptWindow{}, errors.New("rate limit needs a positive limit and window")
	}

	nowMS := now.UnixMilli()
	member := fmt.Sprintf("%d:%s", nowMS, uuid.NewString())
	raw, err := admitScript.Run(ctx, r.client, []string{r.key(key)}, nowMS, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return port.AttemptWindow{}, fmt.Errorf("redis admit attempt: %w", err)
	}
	if len(raw) != 3 {
		return port.AttemptWindow{}, fmt.Errorf("redis admit attempt: unexpected reply %v", raw)
	}

	return port.AttemptWindow{
		Allowed: raw[0] == 1,
		Count:   int(raw[1]),
		Oldest:  time.UnixMilli(raw[2]).UTC(),
	}, nil
}

func (r *RateLimitRepository) key(key string) string {
	if r.cfg.KeyPrefix == "" {
		return key
	}
	return r.cfg.KeyPrefix + ":" + key
}
