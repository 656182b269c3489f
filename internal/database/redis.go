package database

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/ledger/internal/logging"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// InitRedis initializes the Redis client used for the fraud review feed.
// It returns nil when Redis is unreachable; the engine runs without the feed.
func InitRedis(ctx context.Context) *redis.Client {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	addr := viper.GetString("redis.host") + ":" + viper.GetString("redis.port")
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		logging.L().Warn("redis connection failed, continuing without review feed", zap.Error(err))
		rdb.Close()
		return nil
	}

	logging.L().Info("redis connection established", zap.String("addr", addr))
	return rdb
}
