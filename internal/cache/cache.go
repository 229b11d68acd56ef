// Package cache хранит закодированные строки дампов чанков (K ...), чтобы
// повторные запросы одного и того же состояния не кодировались заново.
//
// Ключ (чанк, seq) неизменяем: при одном сиде мира дамп с тем же seq всегда
// одинаков, поэтому записи не инвалидируются, а только вытесняются.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/annel0/craft-world/internal/vec"
)

// DumpCache кеш закодированных дампов
type DumpCache interface {
	// Get возвращает строку дампа чанка cc на момент seq
	Get(ctx context.Context, cc vec.ChunkCoord, seq uint64) ([]byte, bool)
	// Put сохраняет строку дампа; ошибки хранилища только логируются
	Put(ctx context.Context, cc vec.ChunkCoord, seq uint64, line []byte)
	Close() error
}

// Config настройки кеша дампов
type Config struct {
	Driver string `yaml:"driver"` // none | memory | redis | tiered

	// MaxBytes бюджет памяти in-process уровня
	MaxBytes int64 `yaml:"max_bytes"`

	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`

	// Prefix разделяет миры с разными сидами в общем Redis
	Prefix string `yaml:"prefix"`
}

// Open создаёт кеш по конфигурации. Для driver=none возвращает nil.
func Open(cfg Config) (DumpCache, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		c, err := NewMemoryCache(cfg.MaxBytes)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "redis":
		c, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "tiered":
		hot, err := NewMemoryCache(cfg.MaxBytes)
		if err != nil {
			return nil, err
		}
		cold, err := NewRedisCache(cfg)
		if err != nil {
			hot.Close()
			return nil, err
		}
		return NewTiered(hot, cold), nil
	default:
		return nil, fmt.Errorf("cache: неизвестный драйвер %q", cfg.Driver)
	}
}

// key строковый ключ записи
func key(prefix string, cc vec.ChunkCoord, seq uint64) string {
	buf := make([]byte, 0, len(prefix)+32)
	buf = append(buf, prefix...)
	buf = append(buf, "dump:"...)
	buf = strconv.AppendInt(buf, int64(cc.P), 10)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, int64(cc.Q), 10)
	buf = append(buf, ':')
	buf = strconv.AppendUint(buf, seq, 10)
	return string(buf)
}
