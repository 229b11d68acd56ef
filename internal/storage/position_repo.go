// Package storage сохраняет последнее положение игроков между сессиями.
// Игрок опознаётся по нику (/nick): у протокола нет аккаунтов.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/craft-world/internal/vec"
)

// PlayerState положение игрока на момент выхода
type PlayerState struct {
	Pos       vec.Vec3Float `json:"pos"`
	RX        float64       `json:"rx"`
	RY        float64       `json:"ry"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// PositionRepo определяет интерфейс для сохранения и загрузки положений игроков
type PositionRepo interface {
	Save(ctx context.Context, name string, st PlayerState) error
	// Load возвращает false без ошибки, если игрок заходит впервые
	Load(ctx context.Context, name string) (PlayerState, bool, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// ErrInvalidName пустой ник
var ErrInvalidName = errors.New("storage: пустое имя игрока")

// Options параметры хранилища положений
type Options struct {
	Driver        string        `yaml:"driver"` // none | memory | redis | sqlite | mysql
	Path          string        `yaml:"path"`
	DSN           string        `yaml:"dsn"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// Open открывает хранилище по имени драйвера. Для "none" возвращает nil.
func Open(opts Options) (PositionRepo, error) {
	switch opts.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryPositionRepo(), nil
	case "redis":
		return NewRedisPositionRepo(opts)
	case "sqlite":
		return OpenSQLitePositionRepo(opts.Path)
	case "mysql":
		return OpenMySQLPositionRepo(opts.DSN)
	}
	return nil, fmt.Errorf("storage: неизвестный драйвер %q", opts.Driver)
}

func checkName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	return nil
}
