// Package observability carries the two logging surfaces the engines need:
// a structured operational logger (zap, optionally rotated to disk via
// lumberjack) for lifecycle/diagnostic events, and the per-packet wire event
// recorder, which always writes to stdout in a fixed line format regardless
// of where the operational log goes.
package observability

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

// Logger wraps a zap.Logger with the project's console encoding.
type Logger struct {
	l  *zap.Logger
	al *zap.AtomicLevel
}

// Field aliases zap.Field so callers don't need to import zap directly.
type Field = zap.Field

var (
	String   = zap.String
	Int      = zap.Int
	Uint32   = zap.Uint32
	Uint64   = zap.Uint64
	Duration = zap.Duration
	Err      = zap.Error
)

// New builds a Logger writing to out at the given level.
func New(out io.Writer, level Level) *Logger {
	if out == nil {
		out = os.Stderr
	}
	al := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(encoder(), zapcore.AddSync(out), al)
	return &Logger{l: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), al: &al}
}

// NewRotating builds a Logger that writes to a size/age-rotated file via
// lumberjack, for long-running transfers where an operator wants a bounded
// log directory rather than an ever-growing single file.
func NewRotating(path string, level Level) *Logger {
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     7, // days
		Compress:   true,
	}
	al := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(encoder(), zapcore.AddSync(sink), al)
	return &Logger{l: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), al: &al}
}

func encoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    bracketLevel,
		EncodeTime:     bracketTime,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   bracketCaller,
	})
}

func bracketLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + l.CapitalString() + "]")
}

func bracketTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + t.Format("2006-01-02 15:04:05.000") + "]")
}

func bracketCaller(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + c.TrimmedPath() + "]")
}

func (l *Logger) SetLevel(level Level) {
	if l.al != nil {
		l.al.SetLevel(level)
	}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.l.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.l.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.l.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.l.Error(msg, fields...) }
func (l *Logger) Sync() error                       { return l.l.Sync() }

var std = New(os.Stderr, InfoLevel)

// Default returns the process-wide default Logger.
func Default() *Logger { return std }

// ReplaceDefault swaps the process-wide default Logger, used by cmd/rdtp
// once it has parsed -log-level/-log-file.
func ReplaceDefault(l *Logger) { std = l }
