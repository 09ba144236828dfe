package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/modelplan/utils"
)

// ZerologLogger writes zerolog events
type ZerologLogger struct {
	levels
	Logger zerolog.Logger
}

// NewZerologLogger wraps logger
func NewZerologLogger(logger zerolog.Logger, config Config) Interface {
	return &ZerologLogger{levels: levelsOf(config), Logger: logger}
}

func (l *ZerologLogger) LogMode(level LogLevel) Interface {
	copied := *l
	copied.LogLevel = level
	return &copied
}

func (l *ZerologLogger) event(level LogLevel) *zerolog.Event {
	switch level {
	case Error:
		return l.Logger.Error()
	case Warn:
		return l.Logger.Warn()
	}
	return l.Logger.Info()
}

func (l *ZerologLogger) print(ctx context.Context, level LogLevel, msg string, data []interface{}) {
	if l.LogLevel < level {
		return
	}
	event := l.event(level).Str("file", utils.FileWithLineNum()).Interface("data", data)
	if ctx != nil {
		event = event.Ctx(ctx)
	}
	event.Msg(msg)
}

func (l *ZerologLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.print(ctx, Info, msg, data)
}

func (l *ZerologLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.print(ctx, Warn, msg, data)
}

func (l *ZerologLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.print(ctx, Error, msg, data)
}

func (l *ZerologLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	t, ok := l.classify(begin, fc, err)
	if !ok {
		return
	}

	event := l.event(t.Level).Str("file", t.File).Str("duration", t.duration()).Str("sql", t.SQL)
	if t.Rows != -1 {
		event = event.Int64("rows", t.Rows)
	}
	if t.Err != nil {
		event = event.Err(t.Err)
	}
	if t.Slow != 0 {
		event = event.Stringer("slow_threshold", t.Slow)
	}
	if ctx != nil {
		event = event.Ctx(ctx)
	}
	event.Msg(t.Message)
}

// ZerologLevel zerolog level matching level
func ZerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case Silent:
		return zerolog.Disabled
	case Error:
		return zerolog.ErrorLevel
	case Warn:
		return zerolog.WarnLevel
	}
	return zerolog.InfoLevel
}
