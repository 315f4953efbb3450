package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a log level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
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

// ParseLevel parses a level name, defaulting to LevelInfo for anything else.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger provides structured logging to a file, wrapping a zap sugared
// logger behind the Info/Warn/Debug/Error(msg, keyvals...) call shape used
// throughout the daemon.
type Logger struct {
	mu       sync.Mutex
	sugar    *zap.SugaredLogger
	level    zap.AtomicLevel
	filePath string
	closer   io.Closer
}

func newCore(ws zapcore.WriteSyncer, atom zap.AtomicLevel) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(cfg), ws, atom)
}

// New creates a new logger that writes JSON lines to the given file path.
func New(filePath string) (*Logger, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	atom := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	zl := zap.New(newCore(zapcore.AddSync(file), atom))

	return &Logger{
		sugar:    zl.Sugar(),
		level:    atom,
		filePath: filePath,
		closer:   file,
	}, nil
}

// NewWithWriter creates a logger with a custom writer (useful for testing).
func NewWithWriter(w io.WriteCloser) *Logger {
	atom := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	zl := zap.New(newCore(zapcore.AddSync(w), atom))

	return &Logger{
		sugar:  zl.Sugar(),
		level:  atom,
		closer: w,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level.SetLevel(level.zapLevel())
}

// Close flushes and closes the underlying writer.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.sugar.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, keyvals ...any) { l.sugar.Debugw(msg, normalizeKeyvals(keyvals)...) }

// Info logs an info message.
func (l *Logger) Info(msg string, keyvals ...any) { l.sugar.Infow(msg, normalizeKeyvals(keyvals)...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, keyvals ...any) { l.sugar.Warnw(msg, normalizeKeyvals(keyvals)...) }

// Error logs an error message.
func (l *Logger) Error(msg string, keyvals ...any) { l.sugar.Errorw(msg, normalizeKeyvals(keyvals)...) }

// FilePath returns the path to the log file, empty for writer-backed loggers.
func (l *Logger) FilePath() string { return l.filePath }

// normalizeKeyvals stringifies error-typed values so they serialize
// cleanly regardless of the underlying error type.
func normalizeKeyvals(keyvals []any) []any {
	out := make([]any, len(keyvals))
	copy(out, keyvals)
	for i := 1; i < len(out); i += 2 {
		if err, ok := out[i].(error); ok {
			out[i] = err.Error()
		}
	}
	return out
}
