// Package deltalog хранит журнал правок блоков: каждая правка игрока
// записывается один раз и переигрывается поверх сгенерированного рельефа.
package deltalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/craft-world/internal/world"
)

// Log журнал правок с полным обходом (для экспорта и инструментов)
type Log interface {
	world.EditLog
	// Scan обходит все правки; порядок зависит от бэкенда
	Scan(ctx context.Context, fn func(world.Edit) error) error
	Close() error
}

// ErrOutOfOrder пакет нарушает возрастание seq
var ErrOutOfOrder = errors.New("deltalog: seq не возрастает")

// Options параметры открытия журнала
type Options struct {
	Driver     string // memory | badger | sqlite | mysql
	Path       string // каталог badger или файл sqlite
	DSN        string // строка подключения mysql
	SyncWrites bool   // fsync на каждую запись (badger)
}

// Open открывает журнал по имени драйвера
func Open(opts Options) (Log, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemoryLog(), nil
	case "badger":
		return OpenBadger(opts.Path, opts.SyncWrites)
	case "sqlite":
		return OpenSQLite(opts.Path)
	case "mysql":
		return OpenMySQL(opts.DSN)
	}
	return nil, fmt.Errorf("неизвестный драйвер журнала %q", opts.Driver)
}

// checkBatch проверяет, что seq пакета строго возрастают от last
func checkBatch(last uint64, edits []world.Edit) error {
	for _, e := range edits {
		if e.Seq <= last {
			return fmt.Errorf("%w: %d после %d", ErrOutOfOrder, e.Seq, last)
		}
		last = e.Seq
	}
	return nil
}
