package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/modelplan/utils"
)

// ZapLogger writes to a zap.Logger
type ZapLogger struct {
	levels
	Logger *zap.Logger
}

// NewZapLogger wraps logger
func NewZapLogger(logger *zap.Logger, config Config) Interface {
	return &ZapLogger{levels: levelsOf(config), Logger: logger}
}

func (l *ZapLogger) LogMode(level LogLevel) Interface {
	copied := *l
	copied.LogLevel = level
	return &copied
}

func (l *ZapLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Info {
		l.Logger.Info(msg, zap.String("file", utils.FileWithLineNum()), zap.Any("data", data))
	}
}

func (l *ZapLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Warn {
		l.Logger.Warn(msg, zap.String("file", utils.FileWithLineNum()), zap.Any("data", data))
	}
}

func (l *ZapLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Error {
		l.Logger.Error(msg, zap.String("file", utils.FileWithLineNum()), zap.Any("data", data))
	}
}

func (l *ZapLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	t, ok := l.classify(begin, fc, err)
	if !ok {
		return
	}

	fields := []zap.Field{zap.String("file", t.File), zap.String("duration", t.duration()), zap.String("sql", t.SQL)}
	if t.Rows != -1 {
		fields = append(fields, zap.Int64("rows", t.Rows))
	}

	switch t.Level {
	case Error:
		l.Logger.Error(t.Message, append(fields, zap.Error(t.Err))...)
	case Warn:
		l.Logger.Warn(t.Message, append(fields, zap.Stringer("slow_threshold", t.Slow))...)
	default:
		l.Logger.Info(t.Message, fields...)
	}
}

// ZapLevel zap level matching level
func ZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case Silent:
		return zapcore.DPanicLevel
	case Error:
		return zapcore.ErrorLevel
	case Warn:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}
