package tagging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"typeset/internal/jobs"
	"typeset/internal/logging"
	"typeset/internal/services"
	"typeset/internal/stage"
)

const stageName = "tagged_text"

// Processor drives the tagged-text generation stage against the remote
// transform engine.
type Processor struct {
	service Service
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewProcessor builds the stage processor. timeout bounds how long the
// stage may run before the job is failed.
func NewProcessor(service Service, timeout time.Duration, logger *slog.Logger) *Processor {
	return &Processor{
		service: service,
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "tagging"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Process submits the job to the transform engine and records the stage
// start. Submission failures fail the job immediately.
func (p *Processor) Process(ctx context.Context, job *jobs.Job) error {
	job.AppendState(jobs.StateGeneratingTagged, jobs.SourceTaggedText, p.now())

	if err := p.service.Submit(ctx, job); err != nil {
		job.SetError("tagged text submission failed", err.Error(), jobs.SourceTaggedText)
		p.logger.Error("transform submission failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err))
		return services.Wrap(services.ErrExternalTool, stageName, "submit", "transform engine rejected job", err)
	}

	p.logger.Info("transform submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("project", job.ProjectName))
	return nil
}

// Status polls the transform engine and maps its answer onto the job's
// state history, then applies the overdue check.
func (p *Processor) Status(ctx context.Context, job *jobs.Job) error {
	report, err := p.service.QueryStatus(ctx, job.ID)
	if err != nil {
		// Transient poll failures do not fail the job; the overdue
		// check bounds how long the engine may stay unreachable.
		p.logger.Warn("transform status query failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err))
		p.checkOverdue(ctx, job)
		return nil
	}

	switch report.Status {
	case RemoteWaiting, RemoteProcessing, RemoteTemplateComplete:
		// Still in flight.
	case RemoteTaggedTextComplete, RemoteAllComplete:
		if !job.HasState(jobs.StateTaggedTextGenerated) {
			job.AppendState(jobs.StateTaggedTextGenerated, jobs.SourceTaggedText, p.now())
			p.logger.Info("tagged text generated",
				logging.String(logging.FieldJobID, job.ID))
		}
	case RemoteCanceled:
		if !job.IsTerminal() {
			job.AppendState(jobs.StateCancelled, jobs.SourceTaggedText, p.now())
			p.logger.Info("transform reported cancellation",
				logging.String(logging.FieldJobID, job.ID))
		}
	case RemoteError:
		if !job.IsTerminal() {
			detail := report.Message
			if detail == "" {
				detail = "transform engine reported an error"
			}
			job.SetError("tagged text generation failed", detail, jobs.SourceTaggedText)
			p.logger.Error("transform reported failure",
				logging.String(logging.FieldJobID, job.ID),
				logging.String("detail", detail))
		}
	default:
		p.logger.Warn("transform reported unknown status",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("status", string(report.Status)))
	}

	p.checkOverdue(ctx, job)
	return nil
}

// checkOverdue enforces the stage budget. Jobs already in a terminal
// state are left untouched. A job with no recorded stage start cannot
// be timed, which is a protocol violation and fails the job.
func (p *Processor) checkOverdue(ctx context.Context, job *jobs.Job) {
	if job.IsTerminal() {
		return
	}

	startedAt, ok := job.StateTime(jobs.StateGeneratingTagged)
	if !ok {
		job.SetError("tagged text generation protocol violation",
			"job is being polled without a recorded stage start", jobs.SourceTaggedText)
		p.logger.Error("stage start missing from history",
			logging.String(logging.FieldJobID, job.ID))
		p.cancelRemote(ctx, job.ID)
		return
	}

	elapsed := p.now().Sub(startedAt)
	if elapsed < p.timeout {
		return
	}

	job.SetError("tagged text generation timed out",
		fmt.Sprintf("stage ran for %s, budget is %s", elapsed.Round(time.Second), p.timeout),
		jobs.SourceTaggedText)
	p.logger.Error("stage timed out",
		logging.String(logging.FieldJobID, job.ID),
		logging.Duration("elapsed", elapsed),
		logging.Duration("budget", p.timeout))
	p.cancelRemote(ctx, job.ID)
}

// Cancel stops the stage for the job. The remote cancel is best effort;
// the local Cancelled entry is authoritative.
func (p *Processor) Cancel(ctx context.Context, job *jobs.Job) error {
	if !job.IsTerminal() {
		job.AppendState(jobs.StateCancelled, jobs.SourceTaggedText, p.now())
	}
	p.cancelRemote(ctx, job.ID)
	return nil
}

// HealthCheck reports whether the transform engine is reachable.
func (p *Processor) HealthCheck(ctx context.Context) stage.Health {
	if err := p.service.Ping(ctx); err != nil {
		return stage.Unhealthy(stageName, err.Error())
	}
	return stage.Healthy(stageName)
}

func (p *Processor) cancelRemote(ctx context.Context, jobID string) {
	if err := p.service.Cancel(ctx, jobID); err != nil {
		p.logger.Warn("remote cancel failed",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err))
	}
}
