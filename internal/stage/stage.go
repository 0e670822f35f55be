// Package stage defines the capability surface shared by the pipeline
// stage processors and their health reporting.
package stage

import (
	"context"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"typeset/internal/jobs"
)

// Processor drives one pipeline stage for a job. Process starts the
// stage, Status advances it on each poll, Cancel stops in-flight work.
// Implementations mutate the job record; persistence is the caller's
// responsibility.
type Processor interface {
	Process(ctx context.Context, job *jobs.Job) error
	Status(ctx context.Context, job *jobs.Job) error
	Cancel(ctx context.Context, job *jobs.Job) error
	HealthCheck(ctx context.Context) Health
}

// Health is a point-in-time readiness report for a stage dependency.
type Health struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Healthy builds a passing health report.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true, CheckedAt: time.Now().UTC()}
}

// Unhealthy builds a failing health report with the failure detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail, CheckedAt: time.Now().UTC()}
}

var titleCaser = cases.Title(language.English)

// DisplayName renders an internal stage identifier for human output,
// e.g. "tagged_text" becomes "Tagged Text".
func DisplayName(name string) string {
	cleaned := strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSpace(name))
	if cleaned == "" {
		return ""
	}
	return titleCaser.String(cleaned)
}
