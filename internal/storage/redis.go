package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-redis/redis/v8"
	"github.com/igwedaniel/sharkmon/internal/config"
	"github.com/igwedaniel/sharkmon/internal/types"
	"github.com/sirupsen/logrus"
)

// ErrCacheMiss is returned when a key is absent or expired
var ErrCacheMiss = errors.New("cache key not found")

// Storage interface for loose coupling
type Storage interface {
	// Feed snapshots
	SaveSnapshot(ctx context.Context, feed types.Feed, value interface{}) error
	LoadSnapshot(ctx context.Context, feed types.Feed, dest interface{}) (time.Time, error)

	// Watched miner
	SetWatchedAddress(ctx context.Context, address string) error
	GetWatchedAddress(ctx context.Context) (string, error)

	// Caching
	SetCache(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetCache(ctx context.Context, key string, dest interface{}) error
	DeleteCache(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// envelope wraps a stored snapshot with the time it was saved
type envelope struct {
	SavedAt time.Time       `json:"saved_at"`
	Payload json.RawMessage `json:"payload"`
}

func snapshotKey(prefix string, feed types.Feed) string {
	return fmt.Sprintf("%s:snapshot:%s", prefix, feed)
}

func watchKey(prefix string) string {
	return fmt.Sprintf("%s:watch:address", prefix)
}

func newEnvelope(value interface{}, now time.Time) (*envelope, error) {
	payload, err := sonic.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return &envelope{SavedAt: now, Payload: payload}, nil
}

func (e *envelope) decode(dest interface{}) (time.Time, error) {
	if err := sonic.Unmarshal(e.Payload, dest); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return e.SavedAt, nil
}

// RedisStorage implements Storage interface using Redis
type RedisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisStorage creates a new Redis storage instance
func NewRedisStorage(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	opt.MinIdleConns = cfg.MinIdleConns
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opt.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opt.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStorage{
		client: client,
		prefix: strings.TrimSuffix(cfg.KeyPrefix, ":"),
		ttl:    cfg.SnapshotTTL,
		logger: logger,
	}, nil
}

// Snapshot methods
func (r *RedisStorage) SaveSnapshot(ctx context.Context, feed types.Feed, value interface{}) error {
	env, err := newEnvelope(value, time.Now().UTC())
	if err != nil {
		return err
	}
	return r.SetCache(ctx, snapshotKey(r.prefix, feed), env, r.ttl)
}

func (r *RedisStorage) LoadSnapshot(ctx context.Context, feed types.Feed, dest interface{}) (time.Time, error) {
	var env envelope
	if err := r.GetCache(ctx, snapshotKey(r.prefix, feed), &env); err != nil {
		return time.Time{}, err
	}
	return env.decode(dest)
}

// Watched miner methods
func (r *RedisStorage) SetWatchedAddress(ctx context.Context, address string) error {
	if address == "" {
		return r.DeleteCache(ctx, watchKey(r.prefix))
	}
	return r.client.Set(ctx, watchKey(r.prefix), address, 0).Err()
}

func (r *RedisStorage) GetWatchedAddress(ctx context.Context) (string, error) {
	address, err := r.client.Get(ctx, watchKey(r.prefix)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return address, err
}

// Caching methods
func (r *RedisStorage) SetCache(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := sonic.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *RedisStorage) GetCache(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return sonic.Unmarshal(data, dest)
}

func (r *RedisStorage) DeleteCache(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Health check methods
func (r *RedisStorage) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
