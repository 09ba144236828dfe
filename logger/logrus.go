package logger

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/modelplan/utils"
)

// LogrusLogger writes logrus entries
type LogrusLogger struct {
	levels
	Logger *logrus.Logger
}

// NewLogrusLogger wraps logger
func NewLogrusLogger(logger *logrus.Logger, config Config) Interface {
	return &LogrusLogger{levels: levelsOf(config), Logger: logger}
}

func (l *LogrusLogger) LogMode(level LogLevel) Interface {
	copied := *l
	copied.LogLevel = level
	return &copied
}

func (l *LogrusLogger) entry(ctx context.Context, fields logrus.Fields) *logrus.Entry {
	entry := l.Logger.WithFields(fields)
	if ctx != nil {
		entry = entry.WithContext(ctx)
	}
	return entry
}

func (l *LogrusLogger) print(ctx context.Context, level LogLevel, msg string, data []interface{}) {
	if l.LogLevel < level {
		return
	}
	l.entry(ctx, logrus.Fields{"file": utils.FileWithLineNum(), "data": data}).Log(logrusLevel(level), msg)
}

func (l *LogrusLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.print(ctx, Info, msg, data)
}

func (l *LogrusLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.print(ctx, Warn, msg, data)
}

func (l *LogrusLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.print(ctx, Error, msg, data)
}

func (l *LogrusLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	t, ok := l.classify(begin, fc, err)
	if !ok {
		return
	}

	fields := logrus.Fields{"file": t.File, "duration": t.duration(), "sql": t.SQL}
	if t.Rows != -1 {
		fields["rows"] = t.Rows
	}
	if t.Err != nil {
		fields["error"] = t.Err.Error()
	}
	if t.Slow != 0 {
		fields["slow_threshold"] = t.Slow.String()
	}
	l.entry(ctx, fields).Log(logrusLevel(t.Level), t.Message)
}

func logrusLevel(level LogLevel) logrus.Level {
	switch level {
	case Error:
		return logrus.ErrorLevel
	case Warn:
		return logrus.WarnLevel
	}
	return logrus.InfoLevel
}
