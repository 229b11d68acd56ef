package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/craft-world/internal/logging"
)

const redisKeyPrefix = "craft:player:"

// RedisPositionRepo хранит положения игроков в Redis; запись живёт TTL
// с момента последнего выхода.
type RedisPositionRepo struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPositionRepo подключается к Redis и проверяет соединение
func NewRedisPositionRepo(opts Options) (*RedisPositionRepo, error) {
	if opts.TTL == 0 {
		opts.TTL = 30 * 24 * time.Hour
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.RedisAddr,
		Password:     opts.RedisPassword,
		DB:           opts.RedisDB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("storage: redis %s: %w", opts.RedisAddr, err)
	}

	logging.Info("Положения игроков в Redis: %s (ttl %s)", opts.RedisAddr, opts.TTL)
	return &RedisPositionRepo{client: rdb, ttl: opts.TTL}, nil
}

func (r *RedisPositionRepo) Save(ctx context.Context, name string, st PlayerState) error {
	if err := checkName(name); err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, redisKeyPrefix+name, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("storage: сохранение %s: %w", name, err)
	}
	return nil
}

func (r *RedisPositionRepo) Load(ctx context.Context, name string) (PlayerState, bool, error) {
	if err := checkName(name); err != nil {
		return PlayerState{}, false, err
	}
	data, err := r.client.Get(ctx, redisKeyPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return PlayerState{}, false, nil
	}
	if err != nil {
		return PlayerState{}, false, fmt.Errorf("storage: загрузка %s: %w", name, err)
	}
	var st PlayerState
	if err := json.Unmarshal(data, &st); err != nil {
		return PlayerState{}, false, fmt.Errorf("storage: повреждённая запись %s: %w", name, err)
	}
	return st, true, nil
}

func (r *RedisPositionRepo) Delete(ctx context.Context, name string) error {
	return r.client.Del(ctx, redisKeyPrefix+name).Err()
}

func (r *RedisPositionRepo) Close() error {
	return r.client.Close()
}
