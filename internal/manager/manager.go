// Package manager implements job submission, lookup, update, deletion,
// and preview file access on top of the store and the scheduler.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"typeset/internal/jobs"
	"typeset/internal/logging"
	"typeset/internal/services"
)

// Scheduling is the scheduler surface the manager depends on.
type Scheduling interface {
	Add(jobID string)
	Remove(jobID string)
	CancelJob(ctx context.Context, jobID string) error
}

// Manager owns job CRUD semantics.
type Manager struct {
	store     *jobs.Store
	guard     *jobs.Guard
	scheduler Scheduling
	outputDir string
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a manager.
func New(store *jobs.Store, guard *jobs.Guard, scheduler Scheduling, outputDir string, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		guard:     guard,
		scheduler: scheduler,
		outputDir: outputDir,
		logger:    logging.NewComponentLogger(logger, "manager"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates and accepts a new job: assigns its identifier,
// records the Submitted entry, persists it, and schedules polling.
func (m *Manager) Submit(ctx context.Context, job *jobs.Job) (*jobs.Job, error) {
	if job == nil {
		return nil, services.Wrap(services.ErrValidation, "", "submit", "job is required", nil)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	now := m.now()
	job.ID = uuid.NewString()
	job.IsError = false
	job.ErrorMessage = ""
	job.ErrorDetail = ""
	job.SubmittedAt = &now
	job.StateHistory = nil
	job.AppendState(jobs.StateSubmitted, jobs.SourceGeneric, now)

	if err := m.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persist submission: %w", err)
	}
	m.scheduler.Add(job.ID)

	m.logger.Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("project", job.ProjectName),
		logging.String("user", job.User))
	return job, nil
}

// Get fetches a job by identifier.
func (m *Manager) Get(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "get", "job "+id+" does not exist", nil)
	}
	return job, nil
}

// List returns all jobs ordered by submission time.
func (m *Manager) List(ctx context.Context) ([]*jobs.Job, error) {
	return m.store.List(ctx)
}

// Update persists changes to an existing job. Unknown jobs are
// rejected; updates never create records.
func (m *Manager) Update(ctx context.Context, job *jobs.Job) error {
	if job == nil || job.ID == "" {
		return services.Wrap(services.ErrValidation, "", "update", "job id is required", nil)
	}

	m.guard.Lock(job.ID)
	defer m.guard.Unlock(job.ID)

	existing, err := m.store.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return services.Wrap(services.ErrNotFound, "", "update", "job "+job.ID+" does not exist", nil)
	}
	return m.store.Update(ctx, job)
}

// Delete unschedules and removes a job, returning the deleted record.
func (m *Manager) Delete(ctx context.Context, id string) (*jobs.Job, error) {
	m.scheduler.Remove(id)

	m.guard.Lock(id)
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		m.guard.Unlock(id)
		return nil, err
	}
	if job == nil {
		m.guard.Unlock(id)
		return nil, services.Wrap(services.ErrNotFound, "", "delete", "job "+id+" does not exist", nil)
	}
	if err := m.store.Remove(ctx, id); err != nil {
		m.guard.Unlock(id)
		return nil, err
	}
	m.guard.Unlock(id)
	m.guard.Forget(id)

	m.logger.Info("job deleted", logging.String(logging.FieldJobID, id))
	return job, nil
}

// Cancel stops a job's in-flight work through its current stage.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	if err := m.scheduler.CancelJob(ctx, id); err != nil {
		return err
	}
	m.logger.Info("job cancelled", logging.String(logging.FieldJobID, id))
	return nil
}

// PreviewPath returns where a job's preview file lives.
func (m *Manager) PreviewPath(id string) string {
	return filepath.Join(m.outputDir, "preview-"+id+".pdf")
}

// PreviewFile opens the finished preview for a job. Missing jobs and
// missing files both surface as not found.
func (m *Manager) PreviewFile(ctx context.Context, id string) (*os.File, error) {
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "preview", "job "+id+" does not exist", nil)
	}

	file, err := os.Open(m.PreviewPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "", "preview",
				"no preview file for job "+id, nil)
		}
		return nil, fmt.Errorf("open preview: %w", err)
	}
	return file, nil
}
