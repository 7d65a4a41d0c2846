// Package logging assembles the slog loggers used across courier.
//
// It owns the console and JSON handlers, the standard field keys that tag
// lines with task ids, pipelines and event channels, and the helpers that
// keep WARN lines carrying an event type, a hint and an impact. NewNop is
// provided for tests and wiring code that has no logger yet.
package logging
