package logging

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// LoggerManager реестр логгеров компонентов (network, storage, api, ...).
// Один компонент = один *Logger: пакеты держат указатель, поэтому
// перенастройка меняет логгеры на месте.
type LoggerManager struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

func newLoggerManager() *LoggerManager {
	return &LoggerManager{loggers: make(map[string]*Logger)}
}

// GetLoggerManager глобальный реестр
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = newLoggerManager()
	})
	return globalManager
}

// GetLogger логгер компонента с текущими опциями; создаётся при первом обращении
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	logger, ok := lm.loggers[component]
	lm.mu.RUnlock()
	if ok {
		return logger, nil
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if logger, ok := lm.loggers[component]; ok {
		return logger, nil
	}
	logger, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("логгер %s: %w", component, err)
	}
	lm.loggers[component] = logger
	return logger, nil
}

// Component логгер компонента. Если файл логов не открывается, компонент
// пишет только в консоль, но с порогами из текущих опций.
func (lm *LoggerManager) Component(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err == nil {
		return logger
	}
	Warn("%v: пишу только в консоль", err)

	opts := currentOptions()
	opts.Dir = ""
	logger, _ = newLogger(component, opts) // без файла ошибки нет

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if existing, ok := lm.loggers[component]; ok {
		return existing
	}
	lm.loggers[component] = logger
	return logger
}

// Configure запоминает опции для новых логгеров и применяет их к уже
// созданным: пороги из opts.Components и новый файл в opts.Dir.
func (lm *LoggerManager) Configure(opts Options) error {
	optsMu.Lock()
	options = opts
	optsMu.Unlock()

	lm.mu.RLock()
	defer lm.mu.RUnlock()
	var errs []error
	for component, logger := range lm.loggers {
		if err := logger.apply(opts); err != nil {
			errs = append(errs, fmt.Errorf("логгер %s: %w", component, err))
		}
	}
	return errors.Join(errs...)
}

// CloseAll закрывает файлы всех логгеров и очищает реестр
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("логгер %s: %w", component, err))
		}
	}
	lm.loggers = make(map[string]*Logger)
	return errors.Join(errs...)
}

// ListComponents имена зарегистрированных компонентов по алфавиту
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().Component(component)
}

func GetNetworkLogger() *Logger {
	return GetComponentLogger("network")
}

func GetStorageLogger() *Logger {
	return GetComponentLogger("storage")
}

func GetMeshLogger() *Logger {
	return GetComponentLogger("mesh")
}

func GetClientLogger() *Logger {
	return GetComponentLogger("client")
}
