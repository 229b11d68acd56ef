package logging

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из конфигурации ("debug", "INFO", ...)
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("неизвестный уровень логирования %q", s)
}

// Options параметры логгеров
type Options struct {
	Dir          string   // директория файлов логов; пусто = без файлов
	ConsoleLevel LogLevel // минимальный уровень для консоли
	FileLevel    LogLevel // минимальный уровень для файла

	// Components пороги отдельных компонентов поверх общих
	Components map[string]Levels
}

// Levels пороги одного компонента
type Levels struct {
	Console LogLevel
	File    LogLevel
}

func (o Options) levels(component string) Levels {
	if lv, ok := o.Components[component]; ok {
		return lv
	}
	return Levels{Console: o.ConsoleLevel, File: o.FileLevel}
}

// Logger представляет систему логирования
type Logger struct {
	component       string
	consoleLogger   *log.Logger
	fileLogger      *log.Logger
	file            *os.File
	minConsoleLevel LogLevel
	minFileLevel    LogLevel
	mu              sync.Mutex
}

var (
	defaultLogger = &Logger{
		consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
		minConsoleLevel: INFO,
		minFileLevel:    TRACE,
	}
	options = Options{ConsoleLevel: INFO, FileLevel: DEBUG}
	optsMu  sync.RWMutex
)

// InitDefaultLogger настраивает глобальный логгер и все логгеры компонентов.
// component задаёт имя файла логов ("server" -> logs/server_<время>.log).
func InitDefaultLogger(component string, opts Options) error {
	logger, err := newLogger(component, opts)
	if err != nil {
		return err
	}
	old := defaultLogger
	defaultLogger = logger
	if old != nil {
		old.Close()
	}
	return GetLoggerManager().Configure(opts)
}

func currentOptions() Options {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return options
}

// NewLogger создаёт логгер компонента с текущими опциями
func NewLogger(component string) (*Logger, error) {
	return newLogger(component, currentOptions())
}

func newLogger(component string, opts Options) (*Logger, error) {
	l := &Logger{
		component:     component,
		consoleLogger: log.New(os.Stdout, "", log.LstdFlags),
	}
	if err := l.apply(opts); err != nil {
		return nil, err
	}
	return l, nil
}

// apply выставляет пороги компонента и открывает новый файл в opts.Dir;
// прежний файл закрывается
func (l *Logger) apply(opts Options) error {
	var file *os.File
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return fmt.Errorf("ошибка создания директории %s: %w", opts.Dir, err)
		}
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		filename := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", l.component, timestamp))
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("ошибка создания файла логов: %w", err)
		}
		file = f
	}

	lv := opts.levels(l.component)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file, l.fileLogger = file, nil
	if file != nil {
		l.fileLogger = log.New(file, "", log.LstdFlags|log.Lmicroseconds)
	}
	l.minConsoleLevel = lv.Console
	l.minFileLevel = lv.File
	return nil
}

// NewWriterLogger логгер поверх произвольного writer (для тестов)
func NewWriterLogger(component string, w io.Writer, level LogLevel) *Logger {
	return &Logger{
		component:       component,
		consoleLogger:   log.New(w, "", 0),
		minConsoleLevel: level,
		minFileLevel:    ERROR + 1,
	}
}

// Close закрывает файл логов
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.fileLogger = nil
	return err
}

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	toFile := l.fileLogger != nil && level >= l.minFileLevel
	toConsole := level >= l.minConsoleLevel
	if !toFile && !toConsole {
		return
	}

	message := fmt.Sprintf(format, args...)
	if l.component != "" {
		message = fmt.Sprintf("[%s] [%s] %s", level.String(), l.component, message)
	} else {
		message = fmt.Sprintf("[%s] %s", level.String(), message)
	}
	if toFile {
		l.fileLogger.Println(message)
	}
	if toConsole {
		l.consoleLogger.Println(message)
	}
}

func (l *Logger) Trace(format string, args ...interface{}) { l.logf(TRACE, format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.logf(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.logf(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.logf(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.logf(ERROR, format, args...) }

// CloseLogger закрывает глобальный логгер и все логгеры компонентов
func CloseLogger() {
	if defaultLogger != nil {
		defaultLogger.Close()
	}
	GetLoggerManager().CloseAll()
}

func Trace(format string, args ...interface{}) { defaultLogger.logf(TRACE, format, args...) }
func Debug(format string, args ...interface{}) { defaultLogger.logf(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { defaultLogger.logf(INFO, format, args...) }
func Warn(format string, args ...interface{})  { defaultLogger.logf(WARN, format, args...) }
func Error(format string, args ...interface{}) { defaultLogger.logf(ERROR, format, args...) }

// HexDump создает hex дамп данных
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}

	// Ограничиваем размер дампа до 256 байт
	size := len(data)
	if size > 256 {
		size = 256
	}

	return hex.Dump(data[:size])
}

// LogProtocolError логирует строку, которую не удалось разобрать
func LogProtocolError(connID string, err error, line []byte) {
	Warn("Protocol error from %s: %v", connID, err)
	if len(line) > 0 {
		Debug("Raw line (%d bytes):\n%s", len(line), HexDump(line))
	}
}

// LogChunkDump логирует отправку дампа чанка
func LogChunkDump(connID string, p, q int, seq uint64, size int) {
	Debug("Chunk dump sent to %s: chunk(%d,%d) seq=%d size=%dB", connID, p, q, seq, size)
}
