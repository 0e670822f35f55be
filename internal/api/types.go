// Package api holds the HTTP wire types, the daemon's API server, and
// the client used by the CLI.
package api

import (
	"time"

	"typeset/internal/jobs"
	"typeset/internal/projects"
	"typeset/internal/stage"
)

// SubmitRequest is the body of POST /api/jobs.
type SubmitRequest struct {
	ProjectName string            `json:"project_name"`
	User        string            `json:"user,omitempty"`
	Layout      jobs.LayoutParams `json:"layout"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job jobs.Job `json:"job"`
}

// JobListResponse wraps the job listing.
type JobListResponse struct {
	Jobs []jobs.Job `json:"jobs"`
}

// ProjectListResponse wraps the project inventory.
type ProjectListResponse struct {
	Projects []projects.Project `json:"projects"`
}

// DaemonStatus reports daemon liveness and pipeline health.
type DaemonStatus struct {
	Running       bool           `json:"running"`
	PID           int            `json:"pid"`
	StartedAt     time.Time      `json:"started_at"`
	JobDBPath     string         `json:"job_db_path"`
	LockFilePath  string         `json:"lock_file_path"`
	QueueDepth    int            `json:"queue_depth"`
	ActiveWorkers []string       `json:"active_workers,omitempty"`
	Stages        []stage.Health `json:"stages,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}
