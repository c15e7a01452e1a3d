package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/config"
)

// NewClient connects to the shared Redis store used for rate-limit buckets,
// the task queue, the DLQ and the tool-result cache. Returns nil when Redis
// is unreachable; callers fall back to in-process equivalents.
func NewClient(cfg *config.RedisConfig, logger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable, using in-process fallbacks",
			zap.String("addr", cfg.Addr),
			zap.Error(err),
		)
		_ = client.Close()
		return nil
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Addr))
	return client
}
