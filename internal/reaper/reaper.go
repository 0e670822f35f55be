// Package reaper removes expired jobs and preview files on a schedule.
package reaper

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"typeset/internal/jobs"
	"typeset/internal/logging"
)

// Unscheduler detaches a job from its polling loop before deletion.
type Unscheduler interface {
	Remove(jobID string)
}

// Reaper sweeps the job store and the output directory, deleting
// records and preview files older than the retention window.
type Reaper struct {
	store       *jobs.Store
	guard       *jobs.Guard
	unscheduler Unscheduler
	outputDir   string
	maxAge      time.Duration
	cron        *cron.Cron
	logger      *slog.Logger
	now         func() time.Time
}

// New builds a reaper. maxAge is the retention window for both job
// records and preview files.
func New(
	store *jobs.Store,
	guard *jobs.Guard,
	unscheduler Unscheduler,
	outputDir string,
	maxAge time.Duration,
	logger *slog.Logger,
) *Reaper {
	return &Reaper{
		store:       store,
		guard:       guard,
		unscheduler: unscheduler,
		outputDir:   outputDir,
		maxAge:      maxAge,
		cron:        cron.New(),
		logger:      logging.NewComponentLogger(logger, "reaper"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the sweep schedules and starts the cron runner.
// Sweeps run at a tenth of the retention window.
func (r *Reaper) Start() error {
	interval := r.maxAge / 10
	if interval < time.Second {
		interval = time.Second
	}
	spec := "@every " + interval.String()

	if _, err := r.cron.AddFunc(spec, func() { r.SweepJobs(context.Background()) }); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc(spec, func() { r.SweepFiles(context.Background()) }); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("retention sweeps scheduled",
		logging.Duration("interval", interval),
		logging.Duration("max_age", r.maxAge))
	return nil
}

// Stop halts the cron runner and waits for running sweeps.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

// SweepJobs deletes job records whose reference time fell outside the
// retention window. Failures on one job do not stop the sweep.
func (r *Reaper) SweepJobs(ctx context.Context) {
	cutoff := r.now().Add(-r.maxAge)

	all, err := r.store.List(ctx)
	if err != nil {
		r.logger.Error("list jobs failed", logging.Error(err))
		return
	}

	for _, job := range all {
		reference := job.ReferenceTime()
		if reference.IsZero() || !reference.Before(cutoff) {
			continue
		}

		r.unscheduler.Remove(job.ID)

		r.guard.Lock(job.ID)
		err := r.store.Remove(ctx, job.ID)
		r.guard.Unlock(job.ID)
		if err != nil {
			r.logger.Error("remove expired job failed",
				logging.String(logging.FieldJobID, job.ID), logging.Error(err))
			continue
		}
		r.guard.Forget(job.ID)

		r.logger.Info("expired job removed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Duration("age", r.now().Sub(reference)))
	}
}

// SweepFiles deletes preview files older than the retention window by
// modification time.
func (r *Reaper) SweepFiles(ctx context.Context) {
	cutoff := r.now().Add(-r.maxAge)

	matches, err := filepath.Glob(filepath.Join(r.outputDir, "preview-*.pdf"))
	if err != nil {
		r.logger.Error("glob preview files failed", logging.Error(err))
		return
	}

	for _, path := range matches {
		if ctx.Err() != nil {
			return
		}
		info, err := os.Stat(path)
		if err != nil {
			r.logger.Warn("stat preview file failed",
				logging.String("path", path), logging.Error(err))
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			r.logger.Error("remove preview file failed",
				logging.String("path", path), logging.Error(err))
			continue
		}
		r.logger.Info("expired preview removed", logging.String("path", path))
	}
}
