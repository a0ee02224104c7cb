package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gartstein/priority/internal/priority/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis. It returns nil when no address is configured.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// Redis shares ranked lists between service replicas. Failures degrade to
// cache misses.
type Redis struct {
	client redisClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *Redis {
	return newRedis(client, prefix, ttl, logger)
}

func newRedis(client redisClient, prefix string, ttl time.Duration, logger *zap.Logger) *Redis {
	if prefix == "" {
		prefix = "priority"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: logger.Named("ranked_list_cache")}
}

func (r *Redis) generationKey() string { return r.prefix + ":generation" }

func (r *Redis) generation(ctx context.Context) (int64, error) {
	v, err := r.client.Get(ctx, r.generationKey()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (r *Redis) listKey(gen int64, key string) string {
	return fmt.Sprintf("%s:list:%d:%s", r.prefix, gen, key)
}

func (r *Redis) Get(ctx context.Context, key string) (models.RankedList, bool) {
	gen, err := r.generation(ctx)
	if err != nil {
		r.logger.Warn("failed to read cache generation", zap.Error(err))
		return models.RankedList{}, false
	}
	raw, err := r.client.Get(ctx, r.listKey(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.RankedList{}, false
	}
	if err != nil {
		r.logger.Warn("failed to read cached ranking", zap.String("key", key), zap.Error(err))
		return models.RankedList{}, false
	}
	var list models.RankedList
	if err := json.Unmarshal(raw, &list); err != nil {
		r.logger.Warn("discarding malformed cached ranking", zap.String("key", key), zap.Error(err))
		return models.RankedList{}, false
	}
	return list, true
}

func (r *Redis) Set(ctx context.Context, key string, list models.RankedList) {
	gen, err := r.generation(ctx)
	if err != nil {
		r.logger.Warn("failed to read cache generation", zap.Error(err))
		return
	}
	raw, err := json.Marshal(list)
	if err != nil {
		r.logger.Warn("failed to encode ranking", zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, r.listKey(gen, key), raw, r.ttl).Err(); err != nil {
		r.logger.Warn("failed to cache ranking", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Invalidate(ctx context.Context) error {
	gen, err := r.client.Incr(ctx, r.generationKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to bump cache generation: %w", err)
	}
	r.logger.Debug("cache generation bumped", zap.Int64("generation", gen))
	return nil
}
