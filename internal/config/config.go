package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annel0/craft-world/internal/cache"
	"github.com/annel0/craft-world/internal/logging"
	"github.com/annel0/craft-world/internal/storage"
	"github.com/annel0/craft-world/internal/world/noise"
)

// Config корневая структура конфигурации сервера мира.
// Незаданные поля получают значения по умолчанию.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	World    WorldConfig     `yaml:"world"`
	Storage  StorageConfig   `yaml:"storage"`
	Players  storage.Options `yaml:"players"`
	Cache    cache.Config    `yaml:"cache"`
	EventBus EventBusConfig  `yaml:"eventbus"`
	API      APIConfig       `yaml:"api"`
	Logging  LoggingConfig   `yaml:"logging"`
	Tracing  TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Transport          string `yaml:"transport"` // tcp | kcp | ws
	WSPath             string `yaml:"ws_path"`
	MaxLineBytes       int    `yaml:"max_line_bytes"`
	OutboundQueue      int    `yaml:"outbound_queue"`
	ViewRadius         int    `yaml:"view_radius"`
	PositionIntervalMs int    `yaml:"position_interval_ms"`
	BatchWindowMs      int    `yaml:"batch_window_ms"`
	BatchMax           int    `yaml:"batch_max"`
	DayLengthS         int    `yaml:"day_length_s"`    // длина игровых суток
	TimeIntervalS      int    `yaml:"time_interval_s"` // период рассылки E
}

type WorldConfig struct {
	Noise noise.Config `yaml:"noise"`
}

type StorageConfig struct {
	Driver     string `yaml:"driver"` // memory | badger | sqlite | mysql
	Path       string `yaml:"path"`
	DSN        string `yaml:"dsn"`
	SyncWrites bool   `yaml:"sync_writes"`
}

type EventBusConfig struct {
	Driver    string `yaml:"driver"` // none | memory | nats
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type APIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`

	// Components пороги по компонентам: network, storage, api, mesh, client
	Components map[string]ComponentLogging `yaml:"components"`
}

// ComponentLogging пустой уровень наследует общий
type ComponentLogging struct {
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
}

type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Default конфигурация без файла
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:          "tcp",
			WSPath:             "/ws",
			MaxLineBytes:       4 << 20,
			OutboundQueue:      1024,
			ViewRadius:         4,
			PositionIntervalMs: 100,
			BatchWindowMs:      5,
			BatchMax:           64,
			DayLengthS:         600,
			TimeIntervalS:      60,
		},
		World:    WorldConfig{Noise: noise.DefaultConfig()},
		Storage:  StorageConfig{Driver: "badger", Path: "data/edits", SyncWrites: true},
		Players:  storage.Options{Driver: "sqlite", Path: "data/players.db"},
		Cache:    cache.Config{Driver: "memory", MaxBytes: 64 << 20, TTL: 10 * time.Minute},
		EventBus: EventBusConfig{Driver: "memory", Stream: "CRAFT", Retention: 24},
		API:      APIConfig{Enabled: true, Port: 8088},
		Logging:  LoggingConfig{Dir: "logs", ConsoleLevel: "INFO", FileLevel: "DEBUG"},
		Tracing:  TracingConfig{ServiceName: "craft-world"},
	}
}

// GetHost адрес прослушивания: config -> CRAFT_HOST -> 0.0.0.0
func (s *ServerConfig) GetHost() string {
	if s.Host != "" {
		return s.Host
	}
	if h := os.Getenv("CRAFT_HOST"); h != "" {
		return h
	}
	return "0.0.0.0"
}

// GetPort порт протокола синхронизации с поддержкой fallback значений
func (s *ServerConfig) GetPort() int {
	return getPortWithEnvFallback(s.Port, "CRAFT_PORT", 4080)
}

// Addr host:port для слушателя
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.GetHost(), s.GetPort())
}

// GetPort порт REST API
func (a *APIConfig) GetPort() int {
	return getPortWithEnvFallback(a.Port, "CRAFT_API_PORT", 8088)
}

// GetJWTSecret секрет админских токенов: config -> CRAFT_JWT_SECRET
func (a *APIConfig) GetJWTSecret() string {
	if a.JWTSecret != "" {
		return a.JWTSecret
	}
	return os.Getenv("CRAFT_JWT_SECRET")
}

// Options параметры логгера
func (l *LoggingConfig) Options() (logging.Options, error) {
	console, err := logging.ParseLevel(l.ConsoleLevel)
	if err != nil {
		return logging.Options{}, fmt.Errorf("logging.console_level: %w", err)
	}
	file, err := logging.ParseLevel(l.FileLevel)
	if err != nil {
		return logging.Options{}, fmt.Errorf("logging.file_level: %w", err)
	}
	opts := logging.Options{Dir: l.Dir, ConsoleLevel: console, FileLevel: file}

	for name, c := range l.Components {
		lv := logging.Levels{Console: console, File: file}
		if c.ConsoleLevel != "" {
			if lv.Console, err = logging.ParseLevel(c.ConsoleLevel); err != nil {
				return logging.Options{}, fmt.Errorf("logging.components.%s.console_level: %w", name, err)
			}
		}
		if c.FileLevel != "" {
			if lv.File, err = logging.ParseLevel(c.FileLevel); err != nil {
				return logging.Options{}, fmt.Errorf("logging.components.%s.file_level: %w", name, err)
			}
		}
		if opts.Components == nil {
			opts.Components = make(map[string]logging.Levels, len(l.Components))
		}
		opts.Components[name] = lv
	}
	return opts, nil
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

// Load читает YAML файл поверх значений по умолчанию.
// Если path == "", берётся CRAFT_CONFIG; без него возвращается Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CRAFT_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate проверяет значения, которые нельзя исправить подстановкой дефолта
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case "tcp", "kcp", "ws":
	default:
		return fmt.Errorf("server.transport: неизвестный транспорт %q", c.Server.Transport)
	}
	switch c.Storage.Driver {
	case "memory", "badger", "sqlite", "mysql":
	default:
		return fmt.Errorf("storage.driver: неизвестный драйвер %q", c.Storage.Driver)
	}
	switch c.Players.Driver {
	case "", "none", "memory", "redis", "sqlite", "mysql":
	default:
		return fmt.Errorf("players.driver: неизвестный драйвер %q", c.Players.Driver)
	}
	switch c.EventBus.Driver {
	case "", "none", "memory", "nats":
	default:
		return fmt.Errorf("eventbus.driver: неизвестный драйвер %q", c.EventBus.Driver)
	}
	if c.World.Noise.MaxHeight <= c.World.Noise.MinHeight {
		return fmt.Errorf("world.noise: max_height %d не больше min_height %d",
			c.World.Noise.MaxHeight, c.World.Noise.MinHeight)
	}
	if c.Server.ViewRadius < 0 {
		return fmt.Errorf("server.view_radius: отрицательный радиус %d", c.Server.ViewRadius)
	}
	return nil
}
