package render

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"typeset/internal/jobs"
	"typeset/internal/logging"
	"typeset/internal/stage"
)

const stageName = "render"

// Processor drives the preview rendering stage via the dispatcher.
type Processor struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// NewProcessor builds the stage processor over a dispatcher.
func NewProcessor(dispatcher *Dispatcher, logger *slog.Logger) *Processor {
	return &Processor{
		dispatcher: dispatcher,
		logger:     logging.NewComponentLogger(logger, "render"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Process records the stage start and hands the job to the dispatcher.
func (p *Processor) Process(_ context.Context, job *jobs.Job) error {
	job.AppendState(jobs.StateGeneratingPreview, jobs.SourcePreview, p.now())
	p.dispatcher.Enqueue(job.ID)
	p.logger.Info("render queued",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("queue_depth", p.dispatcher.QueueDepth()))
	return nil
}

// Status gives waiting jobs another chance at a freed worker. Render
// outcomes are written by the dispatcher itself.
func (p *Processor) Status(_ context.Context, _ *jobs.Job) error {
	p.dispatcher.DispatchPass()
	return nil
}

// Cancel stops the job's render. A queued job is dropped from the
// queue and marked Cancelled here. An in-flight job has its
// cancellation handle fired; the dispatcher records the Cancelled
// entry when the render unwinds. A job with neither is already
// finishing and is left alone.
func (p *Processor) Cancel(_ context.Context, job *jobs.Job) error {
	dequeued := p.dispatcher.Dequeue(job.ID)
	cancelled := p.dispatcher.Cancel(job.ID)

	switch {
	case dequeued:
		if !job.IsTerminal() {
			job.AppendState(jobs.StateCancelled, jobs.SourcePreview, p.now())
		}
		p.logger.Info("queued render cancelled",
			logging.String(logging.FieldJobID, job.ID))
	case cancelled:
		p.logger.Info("in-flight render cancelled",
			logging.String(logging.FieldJobID, job.ID))
	default:
		p.logger.Info("no render to cancel",
			logging.String(logging.FieldJobID, job.ID))
	}
	return nil
}

// HealthCheck pings every configured render engine.
func (p *Processor) HealthCheck(ctx context.Context) stage.Health {
	var failures []string
	for _, worker := range p.dispatcher.workers {
		if err := worker.Client.Ping(ctx); err != nil {
			failures = append(failures, worker.Name+": "+err.Error())
		}
	}
	if len(failures) > 0 {
		return stage.Unhealthy(stageName, strings.Join(failures, "; "))
	}
	return stage.Healthy(stageName)
}
