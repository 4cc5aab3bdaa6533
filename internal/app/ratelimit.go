package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/procurement/internal/observability"
	"github.com/odyssey-erp/procurement/internal/platform/httpx"
)

const redisOpTimeout = 200 * time.Millisecond

// RedisLimitCounter shares httprate window counters between API instances. When Redis
// is unreachable it counts locally until Redis answers again.
type RedisLimitCounter struct {
	client   *redis.Client
	prefix   string
	window   time.Duration
	fallback httprate.LimitCounter
	logger   *slog.Logger
}

var _ httprate.LimitCounter = (*RedisLimitCounter)(nil)

// NewRedisLimitCounter builds a counter whose keys live under prefix.
func NewRedisLimitCounter(client *redis.Client, prefix string, logger *slog.Logger) *RedisLimitCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimitCounter{client: client, prefix: prefix, window: time.Minute, logger: logger}
}

func (c *RedisLimitCounter) Config(requestLimit int, windowLength time.Duration) {
	c.window = windowLength
	c.fallback = httprate.NewLocalLimitCounter(windowLength)
	c.fallback.Config(requestLimit, windowLength)
}

func (c *RedisLimitCounter) Increment(key string, currentWindow time.Time) error {
	return c.IncrementBy(key, currentWindow, 1)
}

func (c *RedisLimitCounter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	redisKey := c.key(key, currentWindow)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, redisKey, int64(amount))
		pipe.Expire(ctx, redisKey, 3*c.window)
		return nil
	})
	if err != nil {
		c.logger.Warn("rate limit counter unavailable, counting locally", slog.Any("error", err))
		return c.local().IncrementBy(key, currentWindow, amount)
	}
	return nil
}

func (c *RedisLimitCounter) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	values, err := c.client.MGet(ctx, c.key(key, currentWindow), c.key(key, previousWindow)).Result()
	if err != nil {
		c.logger.Warn("rate limit counter unavailable, counting locally", slog.Any("error", err))
		return c.local().Get(key, currentWindow, previousWindow)
	}
	curr, err := counterValue(values[0])
	if err != nil {
		return 0, 0, err
	}
	prev, err := counterValue(values[1])
	if err != nil {
		return 0, 0, err
	}
	return curr, prev, nil
}

func (c *RedisLimitCounter) key(key string, window time.Time) string {
	return fmt.Sprintf("%s%d", c.prefix, httprate.LimitCounterKey(key, window))
}

func (c *RedisLimitCounter) local() httprate.LimitCounter {
	if c.fallback == nil {
		c.Config(0, c.window)
	}
	return c.fallback
}

func counterValue(v any) (int, error) {
	switch value := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.Atoi(value)
	default:
		return 0, fmt.Errorf("rate limit counter: unexpected value %T", v)
	}
}

// RateLimits holds the read and write limiters built once at startup.
type RateLimits struct {
	Read  *httprate.RateLimiter
	Write *httprate.RateLimiter
}

// NewRateLimits builds per-IP limiters for reads and mutations. A nil Redis client keeps
// counters in process memory.
func NewRateLimits(cfg *Config, client *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *RateLimits {
	read, write := 100, 20
	if cfg != nil {
		read, write = cfg.RateLimitRead, cfg.RateLimitWrite
	}
	return &RateLimits{
		Read:  newLimiter("read", read, client, metrics, logger),
		Write: newLimiter("write", write, client, metrics, logger),
	}
}

func newLimiter(scope string, limit int, client *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *httprate.RateLimiter {
	opts := []httprate.Option{
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.ObserveRateLimited(scope)
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded")
		}),
	}
	if client != nil {
		opts = append(opts, httprate.WithLimitCounter(NewRedisLimitCounter(client, "procurement:ratelimit:"+scope+":", logger)))
	}
	return httprate.NewRateLimiter(limit, time.Minute, opts...)
}

// Middleware applies the read limiter to safe methods and the write limiter to the rest.
func (l *RateLimits) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	read := l.Read.Handler(next)
	write := l.Write.Handler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			read.ServeHTTP(w, r)
		default:
			write.ServeHTTP(w, r)
		}
	})
}
