package cache

import (
	"fmt"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/infrastructure/config"
	"github.com/eaf/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TokenStoreFactory creates tracking token stores based on configuration
type TokenStoreFactory struct {
	backend               string
	redisConfig           config.RedisConfig
	db                    *gorm.DB
	logger                *zap.Logger
	allowDatabaseFallback bool
}

// TokenStoreFactoryOption is a functional option for configuring the factory
type TokenStoreFactoryOption func(*TokenStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) TokenStoreFactoryOption {
	return func(f *TokenStoreFactory) {
		f.logger = logger
	}
}

// WithDatabaseFallback controls whether to fall back to the database store when Redis is unavailable.
// Default is true (allow fallback)
func WithDatabaseFallback(allow bool) TokenStoreFactoryOption {
	return func(f *TokenStoreFactory) {
		f.allowDatabaseFallback = allow
	}
}

// NewTokenStoreFactory creates a new factory. db backs the database store and the fallback.
func NewTokenStoreFactory(cfg *config.Config, db *gorm.DB, opts ...TokenStoreFactoryOption) *TokenStoreFactory {
	f := &TokenStoreFactory{
		backend:               cfg.Processor.TokenStore,
		redisConfig:           cfg.Redis,
		db:                    db,
		logger:                zap.NewNop(),
		allowDatabaseFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateRedisStore creates a Redis-based token store
func (f *TokenStoreFactory) CreateRedisStore() (*RedisTokenStore, error) {
	client, err := NewRedisClient(f.redisConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis token store: %w", err)
	}
	return NewRedisTokenStore(client, DefaultTokenKeyPrefix), nil
}

// CreateDatabaseStore creates a token store on the tracking_tokens table
func (f *TokenStoreFactory) CreateDatabaseStore() (domain.TokenStore, error) {
	if f.db == nil {
		return nil, fmt.Errorf("database token store requires a database connection")
	}
	return persistence.NewGormTokenStore(f.db), nil
}

// CreateStore creates the configured token store.
// A redis backend that cannot be reached falls back to the database when allowed.
func (f *TokenStoreFactory) CreateStore() (domain.TokenStore, error) {
	switch f.backend {
	case config.TokenStoreDatabase, "":
		f.logger.Info("using database token store")
		return f.CreateDatabaseStore()
	case config.TokenStoreRedis:
	default:
		return nil, fmt.Errorf("unknown token store backend %q", f.backend)
	}

	store, err := f.CreateRedisStore()
	if err == nil {
		f.logger.Info("using Redis token store", zap.String("addr", f.redisConfig.Addr()))
		return store, nil
	}

	if !f.allowDatabaseFallback {
		return nil, fmt.Errorf("Redis required for tracking tokens but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to database token store",
		zap.Error(err),
	)
	return f.CreateDatabaseStore()
}
