package render

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"typeset/internal/jobs"
	"typeset/internal/logging"
	"typeset/internal/services"
	"typeset/internal/transfer"
)

// Worker is one exclusive render slot backed by an engine instance.
type Worker struct {
	Name   string
	Client Client
}

type execution struct {
	jobID string
	done  chan struct{}
}

// Dispatcher assigns queued jobs to render workers. Workers are tried
// in declaration order and each runs at most one job at a time. Queued
// jobs start strictly in FIFO order.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []string
	running map[string]*execution         // worker name -> in-flight job
	cancels map[string]context.CancelFunc // job id -> cancellation handle

	workers    []Worker
	store      *jobs.Store
	guard      *jobs.Guard
	downloader transfer.Downloader
	workDir    string
	outputDir  string
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
	wg         sync.WaitGroup
}

// NewDispatcher builds a dispatcher over the configured worker slots.
// At least one worker is required.
func NewDispatcher(
	workers []Worker,
	store *jobs.Store,
	guard *jobs.Guard,
	downloader transfer.Downloader,
	workDir, outputDir string,
	timeout time.Duration,
	logger *slog.Logger,
) (*Dispatcher, error) {
	if len(workers) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "render", "dispatch", "no render workers configured", nil)
	}
	return &Dispatcher{
		queue:      nil,
		running:    make(map[string]*execution),
		cancels:    make(map[string]context.CancelFunc),
		workers:    workers,
		store:      store,
		guard:      guard,
		downloader: downloader,
		workDir:    workDir,
		outputDir:  outputDir,
		timeout:    timeout,
		logger:     logging.NewComponentLogger(logger, "dispatcher"),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Enqueue adds a job to the tail of the queue and runs a dispatch pass.
func (d *Dispatcher) Enqueue(jobID string) {
	d.mu.Lock()
	for _, queued := range d.queue {
		if queued == jobID {
			d.mu.Unlock()
			return
		}
	}
	d.queue = append(d.queue, jobID)
	d.mu.Unlock()

	d.DispatchPass()
}

// DispatchPass assigns queued jobs to free workers until either runs
// out. Safe to call from any goroutine at any time.
func (d *Dispatcher) DispatchPass() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.queue) > 0 {
		worker, ok := d.freeWorkerLocked()
		if !ok {
			return
		}

		jobID := d.queue[0]
		d.queue = d.queue[1:]

		ctx, cancel := context.WithCancel(context.Background())
		d.cancels[jobID] = cancel

		exec := &execution{jobID: jobID, done: make(chan struct{})}
		d.running[worker.Name] = exec

		d.wg.Add(1)
		go d.run(ctx, worker, jobID, exec)
	}
}

// freeWorkerLocked returns the first worker in declaration order with
// no live execution. Callers hold d.mu.
func (d *Dispatcher) freeWorkerLocked() (Worker, bool) {
	for _, worker := range d.workers {
		exec, busy := d.running[worker.Name]
		if !busy {
			return worker, true
		}
		select {
		case <-exec.done:
			return worker, true
		default:
		}
	}
	return Worker{}, false
}

// Cancel fires the job's cancellation handle if one is registered.
// Returns false when the job has no in-flight render.
func (d *Dispatcher) Cancel(jobID string) bool {
	d.mu.Lock()
	cancel, ok := d.cancels[jobID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Dequeue removes a job from the pending queue before it is assigned.
// Returns false when the job is not queued.
func (d *Dispatcher) Dequeue(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, queued := range d.queue {
		if queued == jobID {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return true
		}
	}
	return false
}

// QueueDepth reports how many jobs await a free worker.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// ActiveWorkers reports the names of workers with a live execution.
func (d *Dispatcher) ActiveWorkers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var active []string
	for _, worker := range d.workers {
		if exec, busy := d.running[worker.Name]; busy {
			select {
			case <-exec.done:
			default:
				active = append(active, worker.Name)
			}
		}
	}
	return active
}

// Wait blocks until all in-flight renders finish. Used at shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// PreviewPath returns where a job's finished preview is written.
func (d *Dispatcher) PreviewPath(jobID string) string {
	return filepath.Join(d.outputDir, "preview-"+jobID+".pdf")
}

// run executes one render on its assigned worker. The cancellation
// handle is removed on every exit path before the slot frees up.
func (d *Dispatcher) run(ctx context.Context, worker Worker, jobID string, exec *execution) {
	defer d.wg.Done()
	// The freed slot may unblock queued jobs. Runs after exec.done is
	// closed so the pass sees the slot as free.
	defer func() { go d.DispatchPass() }()
	defer close(exec.done)
	defer func() {
		d.mu.Lock()
		delete(d.cancels, jobID)
		d.mu.Unlock()
	}()

	ctx = services.WithJobID(ctx, jobID)
	ctx = services.WithWorker(ctx, worker.Name)
	ctx = services.WithStage(ctx, stageName)
	logger := logging.WithContext(ctx, d.logger)

	job := d.loadJob(jobID, logger)
	if job == nil {
		return
	}
	if job.IsTerminal() {
		logger.Info("skipping render, job already terminal")
		return
	}

	logger.Info("render started")
	renderCtx := ctx
	var cancelTimeout context.CancelFunc
	if d.timeout > 0 {
		renderCtx, cancelTimeout = context.WithTimeout(ctx, d.timeout)
		defer cancelTimeout()
	}

	inputDir := filepath.Join(d.workDir, jobID)
	outputPath := d.PreviewPath(jobID)

	err := d.downloader.DownloadInputs(renderCtx, jobID, inputDir)
	if err == nil {
		err = worker.Client.Render(renderCtx, job, inputDir, outputPath)
	}

	d.finish(ctx, jobID, err, logger)
}

// finish records the render outcome on the job under its write guard.
func (d *Dispatcher) finish(runCtx context.Context, jobID string, renderErr error, logger *slog.Logger) {
	d.guard.Lock(jobID)
	defer d.guard.Unlock(jobID)

	persistCtx := context.Background()
	job, err := d.store.GetByID(persistCtx, jobID)
	if err != nil {
		logger.Error("load job after render failed", logging.Error(err))
		return
	}
	if job == nil {
		logger.Warn("job deleted while rendering")
		return
	}
	if job.IsTerminal() {
		logger.Info("job reached a terminal state while rendering")
		return
	}

	switch {
	case renderErr == nil:
		job.AppendState(jobs.StatePreviewGenerated, jobs.SourcePreview, d.now())
		logger.Info("render finished")
	case runCtx.Err() != nil || errors.Is(renderErr, context.Canceled):
		job.AppendState(jobs.StateCancelled, jobs.SourcePreview, d.now())
		logger.Info("render cancelled")
	case errors.Is(renderErr, context.DeadlineExceeded):
		job.SetError("preview generation timed out", renderErr.Error(), jobs.SourcePreview)
		logger.Error("render timed out", logging.Error(renderErr))
	default:
		job.SetError("preview generation failed", renderErr.Error(), jobs.SourcePreview)
		logger.Error("render failed", logging.Error(renderErr))
	}

	if err := d.store.Update(persistCtx, job); err != nil {
		logger.Error("persist render outcome failed", logging.Error(err))
	}
}

func (d *Dispatcher) loadJob(jobID string, logger *slog.Logger) *jobs.Job {
	d.guard.Lock(jobID)
	defer d.guard.Unlock(jobID)

	job, err := d.store.GetByID(context.Background(), jobID)
	if err != nil {
		logger.Error("load job failed", logging.Error(err))
		return nil
	}
	if job == nil {
		logger.Warn("queued job no longer exists")
		return nil
	}
	return job
}
