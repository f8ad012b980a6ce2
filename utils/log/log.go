package log

import (
	"fmt"

	"go.uber.org/zap"
)

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	zap.ReplaceGlobals(logger)
}

// Sink receives every log line at INFO level or above, in addition to the
// normal zap output. The saver uses this to relay log lines back over the
// bus on measurement/log.
type Sink func(level Level, msg string)

var sink Sink

// SetSink registers the relay sink. Pass nil to disable. Set it once during
// startup, before any goroutine logs.
func SetSink(s Sink) {
	sink = s
}

func relay(level Level, format string, args ...interface{}) {
	if sink != nil && level >= INFO {
		sink(level, fmt.Sprintf(format, args...))
	}
}

func Debug(format string, args ...interface{}) {
	if logLevel <= DEBUG {
		zap.S().Debugf(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if logLevel <= INFO {
		zap.S().Infof(format, args...)
	}
	relay(INFO, format, args...)
}

func Warn(format string, args ...interface{}) {
	if logLevel <= WARNING {
		zap.S().Warnf(format, args...)
	}
	relay(WARNING, format, args...)
}

func Error(format string, args ...interface{}) {
	if logLevel <= ERROR {
		zap.S().Errorf(format, args...)
	}
	relay(ERROR, format, args...)
}

func Fatal(format string, args ...interface{}) {
	zap.S().Fatalf(format, args...)
}

func SetLevel(level Level) {
	logLevel = level
}

type Level int

const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
	FATAL
)

var logLevel Level
