package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes shared with any sibling processes using the same instance.
const (
	keyFacts   = "bookingagent:facts:"
	keyCookies = "bookingagent:cookies"
)

const cookieTTL = 12 * time.Hour

// RedisStore persists facts and cookies in Redis. Facts live in one hash per
// user; cookies expire with the venue session lifetime.
type RedisStore struct {
	client *redis.Client
	domain string
	logger *zap.Logger
}

// NewRedisStore connects and pings the instance so a misconfigured URL fails
// at startup rather than mid-booking.
func NewRedisStore(ctx context.Context, url, cookieDomain string, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("Connected to redis memory backend")
	return &RedisStore{client: client, domain: cookieDomain, logger: logger.Named("memory.redis")}, nil
}

func (s *RedisStore) Save(ctx context.Context, userID, key, value string) error {
	if err := s.client.HSet(ctx, keyFacts+userID, key, value).Err(); err != nil {
		return fmt.Errorf("save fact %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, userID, key string) (string, error) {
	val, err := s.client.HGet(ctx, keyFacts+userID, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get fact %q: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) GetAll(ctx context.Context, userID string) (map[string]string, error) {
	facts, err := s.client.HGetAll(ctx, keyFacts+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("get facts for %q: %w", userID, err)
	}
	return facts, nil
}

func (s *RedisStore) SaveCookies(ctx context.Context, cookies string) error {
	if err := s.client.Set(ctx, keyCookies, cookies, cookieTTL).Err(); err != nil {
		return fmt.Errorf("save cookies: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadInjectionScript(ctx context.Context) (string, error) {
	cookies, err := s.client.Get(ctx, keyCookies).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load cookies: %w", err)
	}
	return InjectionScript(cookies, s.domain), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
