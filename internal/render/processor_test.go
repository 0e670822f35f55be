package render

import (
	"context"
	"testing"

	"typeset/internal/jobs"
	"typeset/internal/logging"
)

func TestProcessorProcessQueuesJob(t *testing.T) {
	f := newFixture(t, 1)
	p := NewProcessor(f.dispatcher, logging.NewNop())

	f.createJob(t, "job-a")
	job, _ := f.store.GetByID(context.Background(), "job-a")
	if err := p.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !job.HasState(jobs.StateGeneratingPreview) {
		t.Error("missing generating_preview entry")
	}

	waitStart(t, f.client)
	close(f.client.release)
	f.dispatcher.Wait()
}

func TestProcessorCancelQueuedJob(t *testing.T) {
	f := newFixture(t, 1)
	p := NewProcessor(f.dispatcher, logging.NewNop())

	// Occupy the only worker so the next job stays queued.
	f.createJob(t, "blocker")
	f.dispatcher.Enqueue("blocker")
	waitStart(t, f.client)

	f.createJob(t, "job-a")
	jobA, _ := f.store.GetByID(context.Background(), "job-a")
	if err := p.Process(context.Background(), jobA); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := p.Cancel(context.Background(), jobA); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	current, _ := jobA.CurrentState()
	if current.State != jobs.StateCancelled {
		t.Errorf("state = %s, want cancelled", current.State)
	}
	if depth := f.dispatcher.QueueDepth(); depth != 0 {
		t.Errorf("queue depth = %d", depth)
	}

	close(f.client.release)
	f.dispatcher.Wait()
}

func TestProcessorCancelInFlightDefersToDispatcher(t *testing.T) {
	f := newFixture(t, 1)
	p := NewProcessor(f.dispatcher, logging.NewNop())

	f.createJob(t, "job-a")
	jobA, _ := f.store.GetByID(context.Background(), "job-a")
	if err := p.Process(context.Background(), jobA); err != nil {
		t.Fatalf("process: %v", err)
	}
	waitStart(t, f.client)

	if err := p.Cancel(context.Background(), jobA); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// The in-memory copy is untouched; the dispatcher writes the
	// Cancelled entry to the store when the render unwinds.
	if jobA.HasState(jobs.StateCancelled) {
		t.Error("processor must not append cancelled for in-flight jobs")
	}
	f.waitForState(t, "job-a", jobs.StateCancelled)
	f.dispatcher.Wait()
}

func TestProcessorCancelWithNothingRunning(t *testing.T) {
	f := newFixture(t, 1)
	p := NewProcessor(f.dispatcher, logging.NewNop())

	f.createJob(t, "job-a")
	jobA, _ := f.store.GetByID(context.Background(), "job-a")
	before := len(jobA.StateHistory)
	if err := p.Cancel(context.Background(), jobA); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(jobA.StateHistory) != before {
		t.Error("cancel with nothing running must not touch the history")
	}
}

func TestProcessorStatusTriggersDispatch(t *testing.T) {
	f := newFixture(t, 1)
	p := NewProcessor(f.dispatcher, logging.NewNop())

	f.createJob(t, "job-a")
	f.dispatcher.mu.Lock()
	f.dispatcher.queue = append(f.dispatcher.queue, "job-a")
	f.dispatcher.mu.Unlock()

	if err := p.Status(context.Background(), nil); err != nil {
		t.Fatalf("status: %v", err)
	}
	waitStart(t, f.client)
	close(f.client.release)
	f.dispatcher.Wait()
}

func TestProcessorHealthCheck(t *testing.T) {
	f := newFixture(t, 2)
	p := NewProcessor(f.dispatcher, logging.NewNop())
	if health := p.HealthCheck(context.Background()); !health.Ready {
		t.Errorf("health = %+v", health)
	}
	if got := p.HealthCheck(context.Background()).Name; got != "render" {
		t.Errorf("name = %q", got)
	}
}
