package apikeys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "agntor:apikey:"

// Hash fields of a stored key.
const (
	fieldID       = "id"
	fieldName     = "name"
	fieldActive   = "active"
	fieldCreated  = "created_at"
	fieldLastUsed = "last_used_at"
)

// RedisStore keeps each API key in a Redis hash at <prefix><digest>.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig describes the Redis connection for the key store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + Digest(key)
}

// Create generates a new active key and returns it with its plaintext.
func (s *RedisStore) Create(ctx context.Context, name string) (*APIKey, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	k := &APIKey{
		ID:        uuid.New(),
		Key:       key,
		Name:      name,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	err = s.client.HSet(ctx, s.redisKey(key),
		fieldID, k.ID.String(),
		fieldName, k.Name,
		fieldActive, "1",
		fieldCreated, k.CreatedAt.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}
	return k, nil
}

// Lookup retrieves a key by its plaintext value.
func (s *RedisStore) Lookup(ctx context.Context, key string) (*APIKey, error) {
	fields, err := s.client.HGetAll(ctx, s.redisKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if len(fields) == 0 || fields[fieldID] == "" {
		return nil, ErrNotFound
	}

	k := &APIKey{
		Name:     fields[fieldName],
		IsActive: fields[fieldActive] == "1",
	}
	if k.ID, err = uuid.Parse(fields[fieldID]); err != nil {
		return nil, fmt.Errorf("decode api key id: %w", err)
	}
	if v := fields[fieldCreated]; v != "" {
		if k.CreatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("decode api key created_at: %w", err)
		}
	}
	if v := fields[fieldLastUsed]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode api key last_used_at: %w", err)
		}
		k.LastUsedAt = &t
	}
	return k, nil
}

// TouchLastUsed records at as the key's last use.
func (s *RedisStore) TouchLastUsed(ctx context.Context, key string, at time.Time) error {
	return s.setIfExists(ctx, key, fieldLastUsed, at.UTC().Format(time.RFC3339Nano))
}

// Deactivate marks a key inactive.
func (s *RedisStore) Deactivate(ctx context.Context, key string) error {
	return s.setIfExists(ctx, key, fieldActive, "0")
}

// setIfExists updates one field without creating a hash for unknown keys.
func (s *RedisStore) setIfExists(ctx context.Context, key, field, value string) error {
	rk := s.redisKey(key)
	n, err := s.client.Exists(ctx, rk).Result()
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := s.client.HSet(ctx, rk, field, value).Err(); err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
