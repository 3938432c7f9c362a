package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxLocalKeys = 10000

// LocalLimiter is a per-key token bucket for single-instance deployments.
type LocalLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewLocalLimiter allows perWindow requests per window for each key, with
// bursts up to perWindow.
func NewLocalLimiter(perWindow int, window time.Duration) (*LocalLimiter, error) {
	if perWindow <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	return &LocalLimiter{
		limit:    rate.Every(window / time.Duration(perWindow)),
		burst:    perWindow,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

func (l *LocalLimiter) Allow(_ context.Context, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxLocalKeys {
			// Reset instead of growing without bound.
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
