package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
)

// DefaultTokenKeyPrefix prefixes every tracking token key
const DefaultTokenKeyPrefix = "eaf:token:"

// RedisTokenStore implements TokenStore using Redis.
// This is suitable for deployments that keep processor positions outside the database.
type RedisTokenStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisTokenStore creates a store with an existing Redis client
func NewRedisTokenStore(client *redis.Client, keyPrefix string) *RedisTokenStore {
	if keyPrefix == "" {
		keyPrefix = DefaultTokenKeyPrefix
	}
	return &RedisTokenStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Key returns the key holding the token of a processor in a tenant
func (s *RedisTokenStore) Key(processorName, tenantID string) string {
	return s.keyPrefix + processorName + ":" + tenantID
}

// Load returns the stored token, or the initial token when none was stored
func (s *RedisTokenStore) Load(ctx context.Context, processorName, tenantID string) (domain.GlobalSequenceTrackingToken, bool, error) {
	if strings.TrimSpace(tenantID) == "" {
		return domain.InitialToken(), false, errTenantRequired("LoadToken")
	}

	seq, err := s.client.Get(ctx, s.Key(processorName, tenantID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.InitialToken(), false, nil
		}
		return domain.InitialToken(), false, domain.NewRepositoryError(domain.KindDatabase, "LoadToken",
			fmt.Errorf("failed to load tracking token: %w", err))
	}
	return domain.NewTrackingToken(seq), true, nil
}

// Save stores the token without expiration
func (s *RedisTokenStore) Save(ctx context.Context, processorName, tenantID string, token domain.GlobalSequenceTrackingToken) error {
	if strings.TrimSpace(tenantID) == "" {
		return errTenantRequired("SaveToken")
	}

	if err := s.client.Set(ctx, s.Key(processorName, tenantID), token.GlobalSequence, 0).Err(); err != nil {
		return domain.NewRepositoryError(domain.KindDatabase, "SaveToken",
			fmt.Errorf("failed to save tracking token: %w", err))
	}
	return nil
}

// Close closes the Redis client
func (s *RedisTokenStore) Close() error {
	return s.client.Close()
}

// GetClient returns the underlying Redis client (for testing/monitoring)
func (s *RedisTokenStore) GetClient() *redis.Client {
	return s.client
}

// Ensure RedisTokenStore implements TokenStore
var _ domain.TokenStore = (*RedisTokenStore)(nil)
