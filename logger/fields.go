package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across remit.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity
	FieldScheduleID = "schedule_id"
	FieldPayerID    = "payer_id"
	FieldPayeeID    = "payee_id"
	FieldAttemptID  = "attempt_id"
	FieldRunID      = "run_id"

	// Money movement
	FieldAmount     = "amount"
	FieldCurrency   = "currency"
	FieldChannel    = "channel"
	FieldReceiptRef = "receipt_ref"

	// Scheduling
	FieldNextDueAt = "next_due_at"
	FieldRetryAt   = "retry_at"
	FieldAttempt   = "attempt"
	FieldOutcome   = "outcome"

	// Components
	FieldComponent = "component"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError      = "error"
	FieldErrorClass = "error_class"

	// Counts
	FieldCount     = "count"
	FieldBatchSize = "batch_size"

	// Status
	FieldStatus = "status"
	FieldReason = "reason"

	// Symbol glyph from package sym
	FieldSymbol = "symbol"
)

type contextKey string

const (
	runIDKey      contextKey = "logger_run_id"
	scheduleIDKey contextKey = "logger_schedule_id"
)

// WithRunID adds a batch run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithScheduleID adds a schedule ID to the context for logging
func WithScheduleID(ctx context.Context, scheduleID string) context.Context {
	return context.WithValue(ctx, scheduleIDKey, scheduleID)
}

// RunIDFromContext returns the batch run ID set by WithRunID, if any
func RunIDFromContext(ctx context.Context) string {
	runID, _ := ctx.Value(runIDKey).(string)
	return runID
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	if scheduleID, ok := ctx.Value(scheduleIDKey).(string); ok && scheduleID != "" {
		fields = append(fields, FieldScheduleID, scheduleID)
	}

	return fields
}

// FromContext returns base with fields extracted from ctx attached.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	executor := settle.NewExecutor(..., logger.ComponentLogger("pulse.settle"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
