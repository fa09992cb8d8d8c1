// Package dlogger builds the zap loggers used across the tools, keyed by a
// textual log level.
package dlogger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LogLevelInfo enables info and above
	LogLevelInfo = "info"

	// LogLevelDebug enables debug and above
	LogLevelDebug = "debug"

	// LogLevelNone disables logging entirely
	LogLevelNone = "none"
)

// GetLogger returns a production JSON logger at the given level. The level
// "none" yields a no-op logger.
func GetLogger(logLevel string) (*zap.Logger, error) {
	if logLevel == LogLevelNone {
		return zap.NewNop(), nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// MustGetLogger is GetLogger, panicking on a bad level
func MustGetLogger(logLevel string) *zap.Logger {
	l, err := GetLogger(logLevel)
	if err != nil {
		panic(err)
	}
	return l
}
