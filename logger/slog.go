package logger

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/modelplan/utils"
)

type slogLogger struct {
	levels
	Logger *slog.Logger
}

// NewSlogLogger wraps a log/slog logger
func NewSlogLogger(logger *slog.Logger, config Config) Interface {
	return &slogLogger{levels: levelsOf(config), Logger: logger}
}

func (l *slogLogger) LogMode(level LogLevel) Interface {
	copied := *l
	copied.LogLevel = level
	return &copied
}

func (l *slogLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Info {
		l.log(ctx, slog.LevelInfo, msg, slog.Any("data", data))
	}
}

func (l *slogLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Warn {
		l.log(ctx, slog.LevelWarn, msg, slog.Any("data", data))
	}
}

func (l *slogLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Error {
		l.log(ctx, slog.LevelError, msg, slog.Any("data", data))
	}
}

func (l *slogLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	t, ok := l.classify(begin, fc, err)
	if !ok {
		return
	}

	attrs := []slog.Attr{slog.String("duration", t.duration()), slog.String("sql", t.SQL)}
	if t.Rows != -1 {
		attrs = append(attrs, slog.Int64("rows", t.Rows))
	}

	level := slog.LevelInfo
	switch t.Level {
	case Error:
		level = slog.LevelError
		attrs = append(attrs, slog.String("error", t.Err.Error()))
	case Warn:
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("slow_threshold", t.Slow.String()))
	}
	l.log(ctx, level, t.Message, slog.Attr{Key: "trace", Value: slog.GroupValue(attrs...)})
}

// log keeps the caller outside of this module as the record source
func (l *slogLogger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.Logger.Enabled(ctx, level) {
		return
	}

	r := slog.NewRecord(time.Now(), level, msg, utils.CallerFrame().PC)
	r.Add(args...)
	_ = l.Logger.Handler().Handle(ctx, r)
}
