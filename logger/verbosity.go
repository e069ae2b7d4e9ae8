package logger

import "go.uber.org/zap/zapcore"

// Verbosity level constants for CLI flag counts (-v, -vv, -vvv).
const (
	VerbosityUser  = 0 // No flags: results and errors only
	VerbosityInfo  = 1 // -v: + pass summaries, startup
	VerbosityDebug = 2 // -vv: + per-schedule decisions, timing
	VerbosityTrace = 3 // -vvv: + SQL and mover request detail
)

// VerbosityToLevel maps verbosity flags to zap log levels
//
//	0 (none)  -> WarnLevel
//	1 (-v)    -> InfoLevel
//	2+ (-vv)  -> DebugLevel
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= VerbosityUser:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
