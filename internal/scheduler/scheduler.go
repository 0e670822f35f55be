// Package scheduler owns the per-job polling loops that advance jobs
// through the pipeline stages.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"typeset/internal/jobs"
	"typeset/internal/logging"
	"typeset/internal/services"
	"typeset/internal/stage"
)

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler polls each registered job at a fixed interval and invokes
// the processor for its current stage. One goroutine per job; the
// per-job guard serializes its ticks against other writers.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry

	interval time.Duration
	store    *jobs.Store
	guard    *jobs.Guard
	tagging  stage.Processor
	render   stage.Processor
	logger   *slog.Logger
}

// New builds a scheduler over the two stage processors.
func New(
	interval time.Duration,
	store *jobs.Store,
	guard *jobs.Guard,
	tagging stage.Processor,
	render stage.Processor,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		entries:  make(map[string]*entry),
		interval: interval,
		store:    store,
		guard:    guard,
		tagging:  tagging,
		render:   render,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
	}
}

// Add registers a recurring entry for the job. Adding an already
// registered job is a no-op.
func (s *Scheduler) Add(jobID string) {
	s.mu.Lock()
	if _, exists := s.entries[jobID]; exists {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{cancel: cancel, done: make(chan struct{})}
	s.entries[jobID] = e
	s.mu.Unlock()

	go s.runEntry(ctx, jobID, e)
	s.logger.Info("job scheduled", logging.String(logging.FieldJobID, jobID))
}

// Remove cancels the job's entry and waits for its loop to exit.
// Removing an unknown job is a no-op.
func (s *Scheduler) Remove(jobID string) {
	s.mu.Lock()
	e, ok := s.entries[jobID]
	if ok {
		delete(s.entries, jobID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	e.cancel()
	<-e.done
	s.logger.Info("job unscheduled", logging.String(logging.FieldJobID, jobID))
}

// Has reports whether the job has a live entry.
func (s *Scheduler) Has(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[jobID]
	return ok
}

// Stop cancels every entry and waits for the loops to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	drained := make([]*entry, 0, len(s.entries))
	for id, e := range s.entries {
		e.cancel()
		drained = append(drained, e)
		delete(s.entries, id)
	}
	s.mu.Unlock()
	for _, e := range drained {
		<-e.done
	}
}

// CancelJob cancels a job through the processor for its current stage
// and persists the result. Terminal jobs are left untouched.
func (s *Scheduler) CancelJob(ctx context.Context, jobID string) error {
	s.guard.Lock(jobID)
	defer s.guard.Unlock(jobID)

	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "", "cancel", "job "+jobID+" does not exist", nil)
	}
	if job.IsTerminal() {
		return nil
	}

	current, ok := job.CurrentState()
	if !ok {
		job.AppendState(jobs.StateCancelled, jobs.SourceGeneric, time.Now().UTC())
		return s.store.Update(ctx, job)
	}

	cancelCtx := services.WithJobID(ctx, jobID)
	cancelCtx = services.WithRequestID(cancelCtx, uuid.NewString())
	cancelCtx = services.WithStage(cancelCtx, stageForState(current.State))
	logger := logging.WithContext(cancelCtx, s.logger)

	switch current.State {
	case jobs.StateSubmitted:
		job.AppendState(jobs.StateCancelled, jobs.SourceGeneric, time.Now().UTC())
	case jobs.StateGeneratingTagged:
		if err := s.tagging.Cancel(cancelCtx, job); err != nil {
			logger.Warn("tagging cancel failed", logging.Error(err))
		}
	case jobs.StateTaggedTextGenerated, jobs.StateGeneratingPreview:
		if err := s.render.Cancel(cancelCtx, job); err != nil {
			logger.Warn("render cancel failed", logging.Error(err))
		}
	}

	return s.store.Update(ctx, job)
}

func (s *Scheduler) runEntry(ctx context.Context, jobID string, e *entry) {
	defer close(e.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First poll runs immediately so a fresh submission starts its
	// pipeline without waiting out a full interval.
	if finished := s.tick(ctx, jobID); finished {
		s.forget(jobID)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if finished := s.tick(ctx, jobID); finished {
				s.forget(jobID)
				return
			}
		}
	}
}

// tick advances the job one poll. Returns true when the entry should
// stop: the job is gone or has reached a terminal state.
func (s *Scheduler) tick(ctx context.Context, jobID string) bool {
	if ctx.Err() != nil {
		return false
	}

	s.guard.Lock(jobID)
	defer s.guard.Unlock(jobID)

	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		s.logger.Error("load job failed",
			logging.String(logging.FieldJobID, jobID), logging.Error(err))
		return false
	}
	if job == nil {
		s.logger.Info("job removed, stopping entry",
			logging.String(logging.FieldJobID, jobID))
		return true
	}
	if job.IsTerminal() {
		return true
	}

	current, ok := job.CurrentState()
	if !ok {
		s.logger.Warn("job has no state history",
			logging.String(logging.FieldJobID, jobID))
		return false
	}

	// Each poll carries its own correlation id so the lines a single
	// tick emits, here and in the stage processors, group together.
	pollCtx := services.WithJobID(ctx, jobID)
	pollCtx = services.WithRequestID(pollCtx, uuid.NewString())
	pollCtx = services.WithStage(pollCtx, stageForState(current.State))
	logger := logging.WithContext(pollCtx, s.logger)

	var procErr error
	switch current.State {
	case jobs.StateSubmitted:
		procErr = s.tagging.Process(pollCtx, job)
	case jobs.StateGeneratingTagged:
		procErr = s.tagging.Status(pollCtx, job)
	case jobs.StateTaggedTextGenerated:
		procErr = s.render.Process(pollCtx, job)
	case jobs.StateGeneratingPreview:
		procErr = s.render.Status(pollCtx, job)
	default:
		logger.Warn("unexpected state on poll",
			logging.String(logging.FieldStage, string(current.State)))
	}
	if procErr != nil {
		logger.Error("stage poll failed", logging.Error(procErr))
	}

	if err := s.store.Update(context.Background(), job); err != nil {
		logger.Error("persist job failed", logging.Error(err))
	}

	return job.IsTerminal()
}

// stageForState names the processor responsible for a job in the given
// state. States no processor owns map to an empty stage, which leaves
// the context unannotated.
func stageForState(state jobs.State) string {
	switch state {
	case jobs.StateSubmitted, jobs.StateGeneratingTagged:
		return "tagged_text"
	case jobs.StateTaggedTextGenerated, jobs.StateGeneratingPreview:
		return "render"
	default:
		return ""
	}
}

func (s *Scheduler) forget(jobID string) {
	s.mu.Lock()
	delete(s.entries, jobID)
	s.mu.Unlock()
}
