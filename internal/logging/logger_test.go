package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, DEBUG, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, INFO, lvl, "пустой уровень должен означать INFO")

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestWriterLoggerFiltersLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("mesh", &buf, WARN)

	l.Info("не должно попасть")
	l.Warn("очередь переполнена: %d", 3)

	out := buf.String()
	assert.NotContains(t, out, "не должно попасть")
	assert.Contains(t, out, "[WARN] [mesh] очередь переполнена: 3")
}

func TestNewLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, InitDefaultLogger("test", Options{Dir: dir, ConsoleLevel: ERROR, FileLevel: DEBUG}))
	defer InitDefaultLogger("test", Options{ConsoleLevel: INFO, FileLevel: DEBUG})

	Debug("чанк %d,%d", 2, -1)

	files, err := filepath.Glob(filepath.Join(dir, "test_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DEBUG] [test] чанк 2,-1")
}

func restoreOptions(t *testing.T) {
	t.Helper()
	saved := currentOptions()
	t.Cleanup(func() {
		optsMu.Lock()
		options = saved
		optsMu.Unlock()
	})
}

func TestConfigureAppliesComponentLevels(t *testing.T) {
	restoreOptions(t)
	lm := newLoggerManager()
	network, err := lm.GetLogger("network")
	require.NoError(t, err)
	var buf bytes.Buffer
	network.consoleLogger = log.New(&buf, "", 0)

	dir := t.TempDir()
	require.NoError(t, lm.Configure(Options{
		Dir:          dir,
		ConsoleLevel: WARN,
		FileLevel:    ERROR,
		Components:   map[string]Levels{"network": {Console: DEBUG, File: TRACE}},
	}))

	// уже выданный логгер перенастроен на месте
	network.Debug("подписка %d", 7)
	network.Trace("только в файл")
	assert.Contains(t, buf.String(), "[DEBUG] [network] подписка 7")
	assert.NotContains(t, buf.String(), "только в файл")

	files, err := filepath.Glob(filepath.Join(dir, "network_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "[TRACE] [network] только в файл")

	// новый компонент без переопределения получает общие пороги
	mesh, err := lm.GetLogger("mesh")
	require.NoError(t, err)
	assert.Equal(t, WARN, mesh.minConsoleLevel)
	assert.Equal(t, ERROR, mesh.minFileLevel)
	assert.Equal(t, []string{"mesh", "network"}, lm.ListComponents())
	require.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
}

func TestComponentWithoutLogDirKeepsConfiguredLevels(t *testing.T) {
	restoreOptions(t)
	// директория логов указывает на файл: MkdirAll не пройдёт
	blocker := filepath.Join(t.TempDir(), "busy")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	lm := newLoggerManager()
	err := lm.Configure(Options{
		Dir:          blocker,
		ConsoleLevel: ERROR,
		FileLevel:    ERROR,
		Components:   map[string]Levels{"api": {Console: TRACE, File: DEBUG}},
	})
	require.NoError(t, err, "логгеров ещё нет, применять нечего")

	api := lm.Component("api")
	require.NotNil(t, api)
	assert.Nil(t, api.fileLogger)
	assert.Equal(t, TRACE, api.minConsoleLevel)
	assert.Equal(t, DEBUG, api.minFileLevel)
	assert.Same(t, api, lm.Component("api"))

	other := lm.Component("storage")
	assert.Equal(t, ERROR, other.minConsoleLevel)
}
