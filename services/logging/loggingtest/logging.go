// Package loggingtest provides a logging.Interface recording every entry.
package loggingtest

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type TestLogService struct {
	root  *zap.Logger
	level zap.AtomicLevel
	logs  *observer.ObservedLogs
}

func New() *TestLogService {
	level := zap.NewAtomicLevelAt(zapcore.DebugLevel)
	core, logs := observer.New(level)
	return &TestLogService{
		root:  zap.New(core),
		level: level,
		logs:  logs,
	}
}

func (l *TestLogService) Root() *zap.Logger {
	return l.root
}

func (l *TestLogService) SetLevel(level string) error {
	return l.level.UnmarshalText([]byte(level))
}

// Logs returns the recorded entries.
func (l *TestLogService) Logs() *observer.ObservedLogs {
	return l.logs
}
