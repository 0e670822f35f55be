// Package jobs defines the preview job record, its append-only state
// history, the per-job write guard, and SQLite persistence.
package jobs
