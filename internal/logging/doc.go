// Package logging configures the daemon's slog loggers. It provides a
// human-readable console handler for interactive use, a JSON handler for
// machine consumption, attribute helpers with shared field names, and
// context propagation of job and stage identifiers.
package logging
