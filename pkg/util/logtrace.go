package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Trace logs at debug level, building the entry only when it would be written.
func Trace(lg *zap.Logger, msg string, fields ...zapcore.Field) {
	if l := lg.Check(zapcore.DebugLevel, msg); l != nil {
		l.Write(fields...)
	}
}
