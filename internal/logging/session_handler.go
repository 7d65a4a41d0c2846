package logging

import (
	"context"
	"log/slog"
)

// FieldSessionID identifies the UI session that wrote a record.
const FieldSessionID = "session_id"

type sessionIDHandler struct {
	base      slog.Handler
	sessionID string
}

// WithSessionID returns a logger stamping id on every record, including
// records from loggers derived from it. A nil logger stays nil.
func WithSessionID(logger *slog.Logger, id string) *slog.Logger {
	if logger == nil || id == "" {
		return logger
	}
	return slog.New(&sessionIDHandler{base: logger.Handler(), sessionID: id})
}

func (h *sessionIDHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *sessionIDHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(slog.String(FieldSessionID, h.sessionID))
	return h.base.Handle(ctx, record)
}

func (h *sessionIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sessionIDHandler{base: h.base.WithAttrs(attrs), sessionID: h.sessionID}
}

func (h *sessionIDHandler) WithGroup(name string) slog.Handler {
	return &sessionIDHandler{base: h.base.WithGroup(name), sessionID: h.sessionID}
}
