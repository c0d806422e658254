package bootstrap

import (
	"context"
	"time"

	"logsentry/config"
	"logsentry/pipeline"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisConnectTimeout = 5 * time.Second

// InitRedis connects to Redis when enabled. It returns nil without error
// when Redis is disabled.
func InitRedis(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		sugar.Info("Redis result sink disabled by configuration")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()

	client, err := pipeline.NewRedisClient(ctx, pipeline.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		sugar.Errorf("Redis connection failed:\n%s", ClassifyConnectionError(err, cfg.Redis.Addr))
		return nil, err
	}
	sugar.Infow("Connected to Redis", "addr", cfg.Redis.Addr, "stream", cfg.Redis.Stream, "alert_channel", cfg.Redis.AlertChannel)
	return client, nil
}

// InitCollaborators builds the result sinks and notifier. The memory sink is
// always present; Redis adds a stream sink and a pub/sub notifier.
func InitCollaborators(cfg *config.Config, client *redis.Client, memory *pipeline.MemorySink, sugar *zap.SugaredLogger) ([]pipeline.ResultSink, pipeline.Notifier) {
	sinks := []pipeline.ResultSink{memory}
	if client == nil {
		return sinks, nil
	}
	sinks = append(sinks, pipeline.NewRedisSink(client, cfg.Redis.Stream, cfg.Redis.StreamMaxLen, sugar))
	return sinks, pipeline.NewRedisNotifier(client, cfg.Redis.AlertChannel)
}
