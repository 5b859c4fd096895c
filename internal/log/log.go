package log

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Options configures the global logger.
type Options struct {
	Level Level

	// File, if set, additionally writes JSON lines to a rotated log file.
	File       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

var (
	mu      sync.RWMutex
	logger  *zap.SugaredLogger
	atom    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	closers []func() error

	loggerOnce sync.Once
)

// initLogger installs a stderr console logger the first time the package is used.
func initLogger() {
	loggerOnce.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if logger == nil {
			logger = zap.New(consoleCore(), zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
		}
	})
}

func consoleCore() zapcore.Core {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), atom)
}

// Setup replaces the global logger according to opts. It returns a function
// that flushes and closes any file output.
func Setup(opts Options) func() {
	SetLevel(opts.Level)

	cores := []zapcore.Core{consoleCore()}
	var fileCloser func() error
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxAge:     opts.MaxAgeDays,
			MaxBackups: opts.MaxBackups,
			Compress:   opts.Compress,
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), atom))
		fileCloser = rotator.Close
	}

	Replace(zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)))
	if fileCloser != nil {
		mu.Lock()
		closers = append(closers, fileCloser)
		mu.Unlock()
	}
	return Sync
}

// Replace installs l as the global logger. Tests use it with zaptest/observer.
func Replace(l *zap.Logger) {
	loggerOnce.Do(func() {})
	mu.Lock()
	logger = l.Sugar()
	mu.Unlock()
}

// Sync flushes buffered output and closes rotated files.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if logger != nil {
		_ = logger.Sync()
	}
	for _, c := range closers {
		_ = c()
	}
	closers = nil
}

// SetLevel changes the minimum level. Unknown values fall back to INFO.
func SetLevel(l Level) {
	atom.SetLevel(parseLevel(l))
}

// ParseLevel converts a config string such as "debug" into a Level.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func parseLevel(l Level) zapcore.Level {
	switch ParseLevel(string(l)) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func current() *zap.SugaredLogger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, kv ...any) {
	current().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	current().Warnw(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	current().Errorw(msg, extended...)
}

// Logger is a child logger carrying fixed key/value context.
type Logger struct {
	kv []any
}

// With returns a Logger whose lines always include kv.
func With(kv ...any) *Logger {
	return &Logger{kv: kv}
}

func (l *Logger) merge(kv []any) []any {
	out := make([]any, 0, len(l.kv)+len(kv))
	out = append(out, l.kv...)
	return append(out, kv...)
}

func (l *Logger) Debug(msg string, kv ...any) {
	current().Debugw(msg, l.merge(kv)...)
}

func (l *Logger) Info(msg string, kv ...any) {
	current().Infow(msg, l.merge(kv)...)
}

func (l *Logger) Warn(msg string, kv ...any) {
	current().Warnw(msg, l.merge(kv)...)
}

func (l *Logger) Error(msg string, err error, kv ...any) {
	current().Errorw(msg, l.merge(append([]any{"err", err}, kv...))...)
}
