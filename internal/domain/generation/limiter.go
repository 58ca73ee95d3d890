package generation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultWindow is the length of a rate-limit window.
const DefaultWindow = 24 * time.Hour

// Limiter counts attempts per key inside a fixed window.
type Limiter interface {
	// Allow records an attempt and reports whether it is within limit.
	Allow(ctx context.Context, key string, limit int) (bool, error)
}

// MemoryLimiter keeps windows in process.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*Window
	window  time.Duration
	now     func() time.Time
}

func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryLimiter{
		windows: make(map[string]*Window),
		window:  window,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.WindowStart) >= l.window {
		w = &Window{Key: key, WindowStart: now}
		l.windows[key] = w
	}

	if w.Count >= limit {
		return false, nil
	}
	w.Count++
	return true, nil
}

// RedisLimiter shares windows across instances. The first INCR of a window
// sets its expiry.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	prefix string
}

func NewRedisLimiter(client *redis.Client, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisLimiter{client: client, window: window, prefix: "ratelimit:tryon:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	redisKey := l.prefix + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}

	return incr.Val() <= int64(limit), nil
}
