// Package daemon wires the job pipeline together and enforces
// single-instance execution.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"typeset/internal/api"
	"typeset/internal/config"
	"typeset/internal/jobs"
	"typeset/internal/logging"
	"typeset/internal/manager"
	"typeset/internal/projects"
	"typeset/internal/reaper"
	"typeset/internal/render"
	"typeset/internal/scheduler"
	"typeset/internal/stage"
	"typeset/internal/tagging"
	"typeset/internal/transfer"
)

// Daemon owns the pipeline services and their lifecycle.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *jobs.Store
	guard      *jobs.Guard
	dispatcher *render.Dispatcher
	tagging    stage.Processor
	render     stage.Processor
	scheduler  *scheduler.Scheduler
	manager    *manager.Manager
	inventory  *projects.Inventory
	reaper     *reaper.Reaper
	apiServer  *api.Server

	lockPath  string
	lock      *flock.Flock
	startedAt time.Time

	running atomic.Bool
	cancel  context.CancelFunc
}

// New composes a daemon from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := jobs.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	guard := jobs.NewGuard()

	var downloader transfer.Downloader
	if cfg.Transfer.Bucket != "" {
		downloader, err = transfer.NewS3Downloader(cfg.Transfer)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	} else {
		downloader = transfer.NewLocalDownloader(cfg.Transfer.LocalDir)
	}

	renderTimeout := time.Duration(cfg.Render.TimeoutSec) * time.Second
	workers := make([]render.Worker, 0, len(cfg.Render.Workers))
	for _, workerCfg := range cfg.Render.Workers {
		workers = append(workers, render.Worker{
			Name:   workerCfg.Name,
			Client: render.NewHTTPClient(workerCfg.Endpoint, renderTimeout),
		})
	}

	dispatcher, err := render.NewDispatcher(
		workers, store, guard, downloader,
		cfg.Paths.WorkDir, cfg.Paths.OutputDir,
		renderTimeout, logger,
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	taggingProc := tagging.NewProcessor(
		tagging.NewHTTPService(cfg.Tagging.Endpoint),
		time.Duration(cfg.Tagging.TimeoutSec)*time.Second,
		logger,
	)
	renderProc := render.NewProcessor(dispatcher, logger)

	sched := scheduler.New(
		time.Duration(cfg.Workflow.PollIntervalSec)*time.Second,
		store, guard, taggingProc, renderProc, logger,
	)

	mgr := manager.New(store, guard, sched, cfg.Paths.OutputDir, logger)
	inventory := projects.NewInventory(
		cfg.Paths.ProjectDir,
		time.Duration(cfg.Projects.CheckIntervalSec)*time.Second,
		logger,
	)
	sweeper := reaper.New(
		store, guard, sched, cfg.Paths.OutputDir,
		time.Duration(cfg.Retention.MaxAgeSec)*time.Second,
		logger,
	)

	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		guard:      guard,
		dispatcher: dispatcher,
		tagging:    taggingProc,
		render:     renderProc,
		scheduler:  sched,
		manager:    mgr,
		inventory:  inventory,
		reaper:     sweeper,
		lockPath:   filepath.Join(cfg.Paths.LogDir, "typesetd.lock"),
	}
	d.lock = flock.New(d.lockPath)
	d.apiServer = api.NewServer(cfg.Paths.APIBind, mgr, inventory, d.statusPayload, logger)
	return d, nil
}

// Start acquires the single-instance lock, resumes persisted jobs, and
// brings up the reaper and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another typesetd instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.resumeJobs(runCtx); err != nil {
		d.releaseLock()
		cancel()
		d.cancel = nil
		return err
	}
	if err := d.reaper.Start(); err != nil {
		d.releaseLock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start reaper: %w", err)
	}
	if err := d.apiServer.Start(runCtx); err != nil {
		d.reaper.Stop()
		d.releaseLock()
		cancel()
		d.cancel = nil
		return err
	}

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("db", d.cfg.DatabasePath()))
	return nil
}

// resumeJobs reschedules every persisted job that has not finished.
func (d *Daemon) resumeJobs(ctx context.Context) error {
	all, err := d.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list persisted jobs: %w", err)
	}
	var resumed int
	for _, job := range all {
		if job.IsTerminal() {
			continue
		}
		d.scheduler.Add(job.ID)
		resumed++
	}
	if resumed > 0 {
		d.logger.Info("resumed persisted jobs", logging.Int("count", resumed))
	}
	return nil
}

// Stop halts background processing and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.apiServer.Stop()
	d.scheduler.Stop()
	d.reaper.Stop()
	d.dispatcher.Wait()
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Manager exposes job CRUD for in-process callers.
func (d *Daemon) Manager() *manager.Manager {
	return d.manager
}

// Running reports whether Start has completed.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock failed", logging.Error(err))
	}
}

func (d *Daemon) statusPayload(ctx context.Context) api.DaemonStatus {
	return api.DaemonStatus{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		StartedAt:     d.startedAt,
		JobDBPath:     d.cfg.DatabasePath(),
		LockFilePath:  d.lockPath,
		QueueDepth:    d.dispatcher.QueueDepth(),
		ActiveWorkers: d.dispatcher.ActiveWorkers(),
		Stages: []stage.Health{
			d.tagging.HealthCheck(ctx),
			d.render.HealthCheck(ctx),
		},
	}
}
