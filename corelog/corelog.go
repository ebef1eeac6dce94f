// Package corelog is a thin field-based logging facade over zap, matching the
// (msg string, code int, fields ...Field) call convention the rest of this
// module's ambient stack uses. It never exposes zap types to callers.
package corelog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level mirrors the handful of levels the core actually emits.
type Level int8

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// FileConfig configures the rotating file sink.
type FileConfig struct {
	Filename   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Config configures a Logger instance.
type Config struct {
	Level      Level
	Console    bool
	FileConfig *FileConfig
}

// Field is an opaque structured key/value pair attached to a log record.
type Field = zap.Field

func String(key, val string) Field        { return zap.String(key, val) }
func Int(key string, val int) Field       { return zap.Int(key, val) }
func Int64(key string, val int64) Field   { return zap.Int64(key, val) }
func Float64(key string, val float64) Field {
	return zap.Float64(key, val)
}
func Bool(key string, val bool) Field          { return zap.Bool(key, val) }
func ByteString(key string, val []byte) Field  { return zap.ByteString(key, val) }
func Any(key string, val interface{}) Field    { return zap.Any(key, val) }
func AddError(errs ...error) Field {
	if len(errs) == 1 {
		return zap.NamedError("error", errs[0])
	}
	return zap.Errors("errors", errs)
}

// Logger wraps a configured zap.Logger.
type Logger struct {
	base  *zap.Logger
	level Level
}

// New builds a Logger from cfg. Console output and a rotating file sink can
// both be active at once; when neither is configured, New falls back to an
// uncolored console sink on stdout.
func New(cfg Config) *Logger {
	var cores []zapcore.Core
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.Console {
		colorCfg := encCfg
		colorCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEnc := zapcore.NewConsoleEncoder(colorCfg)
		cores = append(cores, zapcore.NewCore(consoleEnc, zapcore.AddSync(os.Stdout), cfg.Level.zapLevel()))
	}
	if cfg.FileConfig != nil && cfg.FileConfig.Filename != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FileConfig.Filename,
			MaxSize:    cfg.FileConfig.MaxSize,
			MaxBackups: cfg.FileConfig.MaxBackups,
			MaxAge:     cfg.FileConfig.MaxAge,
			Compress:   cfg.FileConfig.Compress,
		}
		jsonEnc := zapcore.NewJSONEncoder(encCfg)
		cores = append(cores, zapcore.NewCore(jsonEnc, zapcore.AddSync(rotator), cfg.Level.zapLevel()))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stdout), cfg.Level.zapLevel()))
	}
	return &Logger{base: zap.New(zapcore.NewTee(cores...)), level: cfg.Level}
}

// IsDebug reports whether debug-level records are being emitted, so callers
// can skip building expensive fields when they are not.
func (l *Logger) IsDebug() bool {
	return l.level == DEBUG
}

func (l *Logger) Debug(msg string, code int, fields ...Field) {
	l.base.Debug(msg, append(fields, zap.Int("code", code))...)
}

func (l *Logger) Info(msg string, code int, fields ...Field) {
	l.base.Info(msg, append(fields, zap.Int("code", code))...)
}

func (l *Logger) Warn(msg string, code int, fields ...Field) {
	l.base.Warn(msg, append(fields, zap.Int("code", code))...)
}

func (l *Logger) Error(msg string, code int, fields ...Field) {
	l.base.Error(msg, append(fields, zap.Int("code", code))...)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.base.Sync()
}

var std = New(Config{Console: true, Level: INFO})

// SetDefault replaces the package-level default logger returned by
// Default. The core itself never calls these — every component is
// constructed with an explicit *Logger — they exist for callers that want a
// process-wide convenience logger.
func SetDefault(l *Logger) { std = l }

func Default() *Logger { return std }
