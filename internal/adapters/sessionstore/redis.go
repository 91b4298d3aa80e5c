package sessionstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"qxGateway/internal/domain"
	"qxGateway/internal/ports"
)

const redisKeyPrefix = "qxgateway-session-"

// RedisStore keeps the session as one JSON value, for deployments where
// several gateway replicas should share a login.
type RedisStore struct {
	rdb    *redis.Client
	key    string
	logger ports.Logger
}

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	Addr     string
	Password string
	Key      string // Distinguishes accounts sharing one Redis
	Logger   ports.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Redis session store")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: ping redis at %s: %w", ports.ErrSessionStore, cfg.Addr, err)
	}
	return NewRedisStoreWithClient(rdb, cfg.Key, cfg.Logger), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(rdb *redis.Client, key string, logger ports.Logger) *RedisStore {
	if key == "" {
		key = "default"
	}
	return &RedisStore{rdb: rdb, key: redisKeyPrefix + key, logger: logger}
}

// Save overwrites the value. Sessions do not expire on their own; the
// upstream rejecting them is what triggers Invalidate.
func (s *RedisStore) Save(ctx context.Context, sess *domain.Session) error {
	data, err := encode(sess)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, string(data), 0).Err(); err != nil {
		return fmt.Errorf("%w: redis set %s: %w", ports.ErrSessionStore, s.key, err)
	}
	s.logger.Debug(ctx, "Session saved", map[string]interface{}{"backend": "redis", "key": s.key})
	return nil
}

// Load returns nil, nil when the key is missing or its value does not parse.
func (s *RedisStore) Load(ctx context.Context) (*domain.Session, error) {
	res, err := s.rdb.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: redis get %s: %w", ports.ErrSessionStore, s.key, err)
	}
	return decode(ctx, s.logger, []byte(res)), nil
}

// Invalidate deletes the key.
func (s *RedisStore) Invalidate(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("%w: redis del %s: %w", ports.ErrSessionStore, s.key, err)
	}
	s.logger.Info(ctx, "Stored session invalidated", map[string]interface{}{"backend": "redis", "key": s.key})
	return nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

var _ ports.SessionStore = (*RedisStore)(nil)
