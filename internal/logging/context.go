package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the structured logging key for component names.
	FieldComponent = "component"
	// FieldTaskID is the structured logging key for backend task identifiers.
	FieldTaskID = "task_id"
	// FieldPipeline is the structured logging key for the download or extract pipeline.
	FieldPipeline = "pipeline"
	// FieldChannel is the structured logging key for backend event channel names.
	FieldChannel = "channel"
	// FieldStatus is the structured logging key for task statuses.
	FieldStatus = "status"
	// FieldCorrelationID is the structured logging key for per-command correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
)

type ctxKey int

const (
	correlationKey ctxKey = iota
	taskKey
)

// WithCorrelationID tags ctx with a command correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFromContext returns the correlation id attached by WithCorrelationID.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(correlationKey).(string)
	return id, ok && id != ""
}

// WithTaskID tags ctx with the task a command targets.
func WithTaskID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, taskKey, id)
}

// ContextFields extracts standard attributes from ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var fields []slog.Attr
	if id, ok := ctx.Value(taskKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldTaskID, id))
	}
	if id, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, id))
	}
	return fields
}

// WithContext returns a logger augmented with fields derived from ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
