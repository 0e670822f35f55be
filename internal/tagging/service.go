package tagging

import (
	"context"

	"typeset/internal/jobs"
)

// RemoteStatus is the transform service's view of a submitted job.
type RemoteStatus string

const (
	RemoteWaiting            RemoteStatus = "Waiting"
	RemoteProcessing         RemoteStatus = "Processing"
	RemoteTemplateComplete   RemoteStatus = "TemplateComplete"
	RemoteTaggedTextComplete RemoteStatus = "TaggedTextComplete"
	RemoteAllComplete        RemoteStatus = "AllComplete"
	RemoteCanceled           RemoteStatus = "Canceled"
	RemoteError              RemoteStatus = "Error"
)

// StatusReport is the service's answer to a status query.
type StatusReport struct {
	Status  RemoteStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Service is the remote text transform engine that turns project
// sources into tagged text.
type Service interface {
	// Submit registers the job with the transform engine and returns
	// once the engine has accepted it.
	Submit(ctx context.Context, job *jobs.Job) error
	// QueryStatus fetches the engine's current status for the job.
	QueryStatus(ctx context.Context, jobID string) (StatusReport, error)
	// Cancel asks the engine to abandon the job. Safe to call for jobs
	// the engine no longer knows about.
	Cancel(ctx context.Context, jobID string) error
	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error
}
