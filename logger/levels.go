package logger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/modelplan/utils"
)

// levels gates what a logger writes and classifies traced statements
type levels struct {
	LogLevel               LogLevel
	SlowThreshold          time.Duration
	Parameterized          bool
	IgnoreEmptyResultError bool
}

func levelsOf(config Config) levels {
	return levels{
		LogLevel:               config.LogLevel,
		SlowThreshold:          config.SlowThreshold,
		Parameterized:          config.ParameterizedQueries,
		IgnoreEmptyResultError: config.IgnoreEmptyResultError,
	}
}

// ParamsFilter hides bound parameters when the logger is parameterized
func (lv levels) ParamsFilter(_ context.Context, sql string, params ...interface{}) (string, []interface{}) {
	if lv.Parameterized {
		return sql, nil
	}
	return sql, params
}

// traced is a statement that passed the level gate
type traced struct {
	Level   LogLevel
	Message string
	File    string
	Elapsed time.Duration
	SQL     string
	// Rows is -1 when the driver does not report affected rows
	Rows int64
	Err  error
	// Slow is the exceeded threshold of a slow statement
	Slow time.Duration
}

// classify decides at which level a statement is logged, fc is only called when it is
func (lv levels) classify(begin time.Time, fc func() (string, int64), err error) (traced, bool) {
	if lv.LogLevel <= Silent {
		return traced{}, false
	}

	t := traced{Elapsed: time.Since(begin)}
	switch {
	case !ignored(err, lv.IgnoreEmptyResultError):
		t.Level, t.Message, t.Err = Error, "SQL executed", err
	case lv.SlowThreshold != 0 && t.Elapsed > lv.SlowThreshold && lv.LogLevel >= Warn:
		t.Level, t.Message, t.Slow = Warn, "SLOW SQL executed", lv.SlowThreshold
	case lv.LogLevel >= Info:
		t.Level, t.Message = Info, "SQL executed"
	default:
		return t, false
	}

	t.SQL, t.Rows = fc()
	t.File = utils.FileWithLineNum()
	return t, true
}

func (t traced) millis() float64 {
	return float64(t.Elapsed.Nanoseconds()) / 1e6
}

func (t traced) duration() string {
	return fmt.Sprintf("%.3fms", t.millis())
}
