// Package services holds cross-cutting helpers shared by the job
// pipeline: context annotation used for structured logging and the
// error sentinels that classify stage failures.
package services
