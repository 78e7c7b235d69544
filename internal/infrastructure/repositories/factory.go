package repositories

import (
	"context"

	"roomsignal/internal/core/ports"
	"roomsignal/internal/infrastructure/repositories/memory"
	redisrepo "roomsignal/internal/infrastructure/repositories/redis"
	"roomsignal/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled. An unreachable Redis is
// not fatal: the directory is only a mirror, so the factory falls back to memory.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis room directory")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory room directory")
	}
	return factory
}

func (f *RepositoryFactory) CreateRoomDirectory() ports.RoomDirectory {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisRoomDirectory(f.redisClient)
	}
	return memory.NewMemoryRoomDirectory()
}

// RedisClient returns the shared client, or nil when running on memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if f.useRedis {
		return f.redisClient
	}
	return nil
}

func (f *RepositoryFactory) UsesRedis() bool {
	return f.useRedis && f.redisClient != nil
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		err := redisrepo.CloseRedisClient(f.redisClient)
		f.redisClient = nil
		return err
	}
	return nil
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
