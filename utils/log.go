package utils

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

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
	case CRITICAL:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a LogLevel. Unknown names fall back to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "critical":
		return CRITICAL
	default:
		return INFO
	}
}

// zap has no trace level; it sits one step below debug.
const zapTraceLevel = zapcore.DebugLevel - 1

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case TRACE:
		return zapTraceLevel
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.DPanicLevel
	}
}

// Logger is a leveled printf-style logger backed by zap.
type Logger struct {
	level  zap.AtomicLevel
	zl     *zap.Logger
	closer func() error
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    encodeLevel,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch {
	case l < zapcore.DebugLevel:
		enc.AppendString("TRACE")
	case l >= zapcore.DPanicLevel:
		enc.AppendString("CRITICAL")
	default:
		enc.AppendString(l.CapitalString())
	}
}

// NewFileLogger logs to a size-rotated file, and to stderr when alsoStderr is set.
// Stdout is left to the diagnostic stream.
func NewFileLogger(filePath string, minLevel LogLevel, alsoStderr bool) (*Logger, error) {
	if filePath == "" && !alsoStderr {
		return nil, fmt.Errorf("logger needs a file or stderr sink")
	}
	level := zap.NewAtomicLevelAt(minLevel.zapLevel())
	enc := zapcore.NewConsoleEncoder(encoderConfig())

	var cores []zapcore.Core
	var rotator *lumberjack.Logger
	if filePath != "" {
		// open eagerly so a bad path fails at startup, not on the first log line
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		_ = f.Close()
		rotator = &lumberjack.Logger{Filename: filePath, MaxSize: 50, MaxBackups: 3}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(rotator), level))
	}
	if alsoStderr {
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level))
	}

	l := &Logger{level: level, zl: zap.New(zapcore.NewTee(cores...))}
	if rotator != nil {
		l.closer = rotator.Close
	}
	return l, nil
}

// NewLoggerFromCore wraps an existing zap core, e.g. an observer in tests.
func NewLoggerFromCore(core zapcore.Core) *Logger {
	return &Logger{level: zap.NewAtomicLevelAt(zapTraceLevel), zl: zap.New(core)}
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return &Logger{level: zap.NewAtomicLevelAt(zapcore.InfoLevel), zl: zap.NewNop()}
}

func (l *Logger) Close() error {
	_ = l.zl.Sync()
	if l.closer != nil {
		return l.closer()
	}
	return nil
}

func (l *Logger) SetMinLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// Named returns a child logger tagged with the component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{level: l.level, zl: l.zl.Named(name)}
}

// Enabled reports whether a message at level would be written anywhere.
func (l *Logger) Enabled(level LogLevel) bool {
	return l.zl.Core().Enabled(level.zapLevel())
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	if ce := l.zl.Check(level.zapLevel(), fmt.Sprintf(msg, args...)); ce != nil {
		ce.Write()
	}
}

func (l *Logger) Trace(msg string, args ...any)    { l.log(TRACE, msg, args...) }
func (l *Logger) Debug(msg string, args ...any)    { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...any)     { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)     { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...any)    { l.log(ERROR, msg, args...) }
func (l *Logger) Critical(msg string, args ...any) { l.log(CRITICAL, msg, args...) }
