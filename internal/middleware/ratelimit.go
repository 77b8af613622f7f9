package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"dispatch/internal/config"
)

// RateLimitConfig holds configuration for the rate limiting middleware
type RateLimitConfig struct {
	RequestsPerWindow int64
	WindowSize        time.Duration
}

// DefaultRateLimitConfig returns a sensible default configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowSize:        time.Minute,
	}
}

// RateLimiter is a Redis-backed sliding window rate limiter used as HTTP
// middleware in front of the job API.
type RateLimiter struct {
	client *redis.Client
	config *RateLimitConfig
}

func NewRateLimiter(redisCfg *config.RedisConfig, cfg *RateLimitConfig) (*RateLimiter, error) {
	if cfg == nil {
		cfg = DefaultRateLimitConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RateLimiter{
		client: client,
		config: cfg,
	}, nil
}

func (rl *RateLimiter) Close() error {
	return rl.client.Close()
}

// Handler returns the HTTP middleware handler function
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientKey := rl.getClientKey(r)

		allowed, remaining, err := rl.allow(r.Context(), clientKey)
		if err != nil {
			log.Printf("Rate limit error for %s: %v", clientKey, err)
			http.Error(w, "Rate limiting temporarily unavailable", http.StatusInternalServerError)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(rl.config.RequestsPerWindow, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !allowed {
			retryAfter := rl.config.WindowSize.Seconds()
			w.Header().Set("Retry-After", strconv.FormatFloat(retryAfter, 'f', 0, 64))
			log.Printf("Rate limit exceeded for client %s (IP: %s)", clientKey, r.RemoteAddr)
			http.Error(w, fmt.Sprintf("Rate limit exceeded. Try again after %.0f seconds.",
				retryAfter), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allow records the request in the current window and reports whether it
// fits the budget.
func (rl *RateLimiter) allow(ctx context.Context, clientKey string) (bool, int64, error) {
	now := time.Now()
	windowStart := now.Add(-rl.config.WindowSize)
	redisKey := fmt.Sprintf("rate_limit:%s", clientKey)

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	count := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: now.UnixNano(),
	})
	pipe.Expire(ctx, redisKey, rl.config.WindowSize*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to check rate limit window: %w", err)
	}

	current := count.Val()
	if current >= rl.config.RequestsPerWindow {
		return false, 0, nil
	}

	remaining := rl.config.RequestsPerWindow - current - 1
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, nil
}

// getClientKey extracts the client identifier from the request, preferring
// an API key header over the remote address.
func (rl *RateLimiter) getClientKey(r *http.Request) string {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return "key:" + apiKey
	}

	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx > 0 {
		addr = addr[:idx]
	}
	return "ip:" + addr
}
