// Package ratelimit ограничивает частоту запросов к API чтения счётчиками в Redis.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPattern = "ratelimit:%s:%d"

// Limiter считает запросы в фиксированном окне с хранением счётчиков в Redis.
// nil-Limiter пропускает все запросы.
type Limiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// New создаёт Limiter, допускающий limit запросов за window для одного ключа.
func New(client *redis.Client, limit int, window time.Duration, logger *zap.Logger) *Limiter {
	if client == nil || limit <= 0 || window <= 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		client: client,
		limit:  int64(limit),
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// NewClient подключается к Redis по адресу addr. Пустой адрес отключает ограничение.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Allow учитывает запрос для key и сообщает, укладывается ли он в лимит.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil {
		return true, nil
	}

	bucket := l.now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf(keyPattern, key, bucket)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.Expire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("rate limit counter: %w", err)
	}

	return incr.Val() <= l.limit, nil
}

// Middleware отклоняет запросы сверх лимита со статусом 429.
// keyFn выбирает ключ запроса; при пустом ключе используется адрес клиента.
// Недоступность Redis не блокирует запросы.
func (l *Limiter) Middleware(keyFn func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if keyFn != nil {
				key = keyFn(r)
			}
			if key == "" {
				key = clientIP(r)
			}

			ok, err := l.Allow(r.Context(), key)
			if err != nil {
				l.logger.Warn("rate limiter unavailable", zap.Error(err))
			}
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
