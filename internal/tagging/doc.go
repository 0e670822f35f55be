// Package tagging drives the tagged-text generation stage. The remote
// transform engine does the actual work; this package submits jobs,
// polls the engine for progress, enforces the stage budget, and maps
// engine statuses onto the job state history.
package tagging
