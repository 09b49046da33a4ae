// Package logging adapts zap's SugaredLogger to the orchestrator.Logger
// interface the rest of this repository already depends on.
package logging

import (
	"go.uber.org/zap"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// Logger is a structured, zap-backed implementation of orchestrator.Logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

var _ orchestrator.Logger = (*Logger)(nil)

// New builds a Logger. debug selects zap's development config (console
// encoding, caller info) over its production config (JSON encoding).
func New(debug bool) *Logger {
	var zcfg zap.Config
	if debug {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "message"

	z, err := zcfg.Build()
	if err != nil {
		// Building a zap config with only key renames should never fail;
		// a fallback to a no-op core would hide a real misconfiguration.
		panic(err)
	}
	return &Logger{sugar: z.Sugar()}
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.sugar.Errorw(msg, args...) }

// Sync flushes any buffered log entries. Call before process exit.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
