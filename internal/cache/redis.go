package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/craft-world/internal/logging"
	"github.com/annel0/craft-world/internal/vec"
)

// RedisCache общий уровень кеша для нескольких серверов одного мира
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache подключается к Redis и проверяет соединение.
func NewRedisCache(cfg Config) (*RedisCache, error) {
	if cfg.TTL == 0 {
		cfg.TTL = 10 * time.Minute
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache: redis %s: %w", cfg.RedisAddr, err)
	}

	logging.Info("Redis кеш дампов: %s (ttl %s)", cfg.RedisAddr, cfg.TTL)
	return &RedisCache{client: rdb, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

func (r *RedisCache) Get(ctx context.Context, cc vec.ChunkCoord, seq uint64) ([]byte, bool) {
	start := time.Now()
	defer func() { cacheLatency.WithLabelValues("redis").Observe(time.Since(start).Seconds()) }()

	val, err := r.client.Get(ctx, key(r.prefix, cc, seq)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			cacheErrors.WithLabelValues("redis").Inc()
			logging.Warn("Redis Get %v@%d: %v", cc, seq, err)
		}
		cacheMisses.WithLabelValues("redis").Inc()
		return nil, false
	}
	cacheHits.WithLabelValues("redis").Inc()
	return val, true
}

func (r *RedisCache) Put(ctx context.Context, cc vec.ChunkCoord, seq uint64, line []byte) {
	if err := r.client.Set(ctx, key(r.prefix, cc, seq), line, r.ttl).Err(); err != nil {
		cacheErrors.WithLabelValues("redis").Inc()
		logging.Warn("Redis Set %v@%d: %v", cc, seq, err)
	}
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
