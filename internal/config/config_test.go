package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/craft-world/internal/logging"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "craft.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("CRAFT_CONFIG", "")
	t.Setenv("CRAFT_PORT", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4080, cfg.Server.GetPort())
	assert.Equal(t, "badger", cfg.Storage.Driver)
	assert.Equal(t, "sqlite", cfg.Players.Driver)
	assert.Equal(t, 64, cfg.World.Noise.MaxHeight)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 5000
  transport: ws
  view_radius: 6
  day_length_s: 1200
world:
  noise:
    seed: 42
storage:
  driver: sqlite
  path: /tmp/edits.db
players:
  driver: redis
  redis_addr: localhost:6379
  ttl: 720h
cache:
  driver: tiered
  redis_addr: localhost:6379
  ttl: 30s
api:
  jwt_secret: s3cret
logging:
  console_level: debug
  components:
    network: {console_level: trace}
    storage: {file_level: error}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.GetPort())
	assert.Equal(t, "ws", cfg.Server.Transport)
	assert.Equal(t, 6, cfg.Server.ViewRadius)
	assert.Equal(t, 100, cfg.Server.PositionIntervalMs, "незаданное поле сохраняет дефолт")
	assert.Equal(t, 1200, cfg.Server.DayLengthS)
	assert.Equal(t, 60, cfg.Server.TimeIntervalS)
	assert.Equal(t, int64(42), cfg.World.Noise.Seed)
	assert.Equal(t, 8, cfg.World.Noise.BaseHeight)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "redis", cfg.Players.Driver)
	assert.Equal(t, 720*time.Hour, cfg.Players.TTL)
	assert.Equal(t, "tiered", cfg.Cache.Driver)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "s3cret", cfg.API.GetJWTSecret())

	opts, err := cfg.Logging.Options()
	require.NoError(t, err)
	assert.Equal(t, logging.DEBUG, opts.ConsoleLevel)
	assert.Equal(t, logging.Levels{Console: logging.TRACE, File: logging.DEBUG}, opts.Components["network"])
	assert.Equal(t, logging.Levels{Console: logging.DEBUG, File: logging.ERROR}, opts.Components["storage"])
	assert.NotContains(t, opts.Components, "api", "без переопределения действуют общие пороги")
}

func TestLoadFromEnvPath(t *testing.T) {
	t.Setenv("CRAFT_CONFIG", writeConfig(t, "server: {port: 4999}\n"))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4999, cfg.Server.GetPort())
}

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("CRAFT_HOST", "127.0.0.1")
	t.Setenv("CRAFT_PORT", "4100")
	t.Setenv("CRAFT_JWT_SECRET", "from-env")
	cfg := Default()
	assert.Equal(t, "127.0.0.1:4100", cfg.Server.Addr())
	assert.Equal(t, "from-env", cfg.API.GetJWTSecret())

	t.Setenv("CRAFT_PORT", "not-a-port")
	assert.Equal(t, 4080, cfg.Server.GetPort())
}

func TestLoadNoiseKeys(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
world:
  noise:
    seed: 9
    sand_level: 6
    snow_level: 30
    tree_chance: 0.05
    elevation: {scale: 0.02, amplitude: 20, alpha: 1.5, beta: 2.5, octaves: 3}
    caves: {scale: 0.1, threshold: 0.4, min_depth: 8, alpha: 2, beta: 2, octaves: 1}
`))
	require.NoError(t, err)
	n := cfg.World.Noise
	assert.Equal(t, 6, n.SandLevel)
	assert.Equal(t, 30, n.SnowLevel)
	assert.Equal(t, 0.05, n.TreeChance)
	assert.Equal(t, 1.5, n.Elevation.Alpha)
	assert.Equal(t, 2.5, n.Elevation.Beta)
	assert.Equal(t, int32(3), n.Elevation.Count)
	assert.Equal(t, 8, n.Caves.MinDepth)
	assert.Equal(t, int32(1), n.Caves.Count)
	assert.Equal(t, 4.0, n.Detail.Amplitude, "незаданный слой сохраняет дефолт")
}

func TestValidateRejectsUnknownDrivers(t *testing.T) {
	_, err := Load(writeConfig(t, "storage: {driver: leveldb}\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "players: {driver: mongo}\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: {transport: quic}\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "world: {noise: {min_height: 10, max_height: 5}}\n"))
	assert.Error(t, err)
}

func TestBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.FileLevel = "loud"
	_, err := cfg.Logging.Options()
	assert.Error(t, err)

	cfg = Default()
	cfg.Logging.Components = map[string]ComponentLogging{"mesh": {ConsoleLevel: "noisy"}}
	_, err = cfg.Logging.Options()
	assert.ErrorContains(t, err, "logging.components.mesh.console_level")
}
