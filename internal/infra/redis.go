package infra

import (
	"context"

	"backend/internal/config"
	"backend/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InitRedis 初始化 Redis 客户端
// Redis 不可用时返回 nil，调用方退回无缓存/无黑名单模式
func InitRedis(cfg *config.RedisConfig) redis.UniversalClient {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("Redis 不可用，令牌黑名单将退回内存实现", zap.Error(err))
		return nil
	}

	logger.Info("Redis 连接成功", zap.String("addr", cfg.Addr()))
	return client
}
