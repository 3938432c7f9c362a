package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request for key fits the quota.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

const (
	defaultRedisPrefix = "studio:ratelimit"
	redisCallTimeout   = 2 * time.Second
)

// hitScript bumps the window counter and arms its expiry on the first hit,
// returning the new count.
var hitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// FixedWindowLimiter counts AI calls per user in Redis so that every studio
// replica shares one quota.
type FixedWindowLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewRedisFixedWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	switch {
	case client == nil:
		return nil, errors.New("rate limiter redis client is required")
	case limit <= 0 || window < time.Millisecond:
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &FixedWindowLimiter{
		rdb:    client,
		prefix: prefix,
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}, nil
}

// Allow fails closed: a Redis error denies the request.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, redisCallTimeout)
	defer cancel()
	n, err := hitScript.Run(ctx, l.rdb, []string{l.bucket(key)}, l.window.Milliseconds()).Int64()
	return err == nil && n <= l.limit
}

// bucket names the counter for key in the current window, e.g.
// "studio:ratelimit:ai:u-1:28928160".
func (l *FixedWindowLimiter) bucket(key string) string {
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}
	slot := l.now().UnixMilli() / l.window.Milliseconds()
	return l.prefix + ":" + key + ":" + strconv.FormatInt(slot, 10)
}
