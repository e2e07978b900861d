// Package logging assembles the structured slog loggers used by the snapkeep
// daemon and CLI.
//
// It owns the console and JSON handlers, level and output plumbing, the
// standard field keys, correlation-id context helpers, and retention of old
// daemon log files. NewNop supplies a discarding logger for tests and for
// wiring code that cannot fail.
package logging
