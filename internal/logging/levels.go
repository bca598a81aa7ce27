package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// TraceLevel is finer than zap's DebugLevel, used for per-poll and
// per-subscriber chatter.
const TraceLevel = zapcore.Level(-2)

// ParseLevel converts a level name to a zapcore.Level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "trace":
		return TraceLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}
