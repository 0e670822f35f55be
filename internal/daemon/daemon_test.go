package daemon

import (
	"context"
	"testing"
	"time"

	"typeset/internal/jobs"
	"typeset/internal/logging"
	"typeset/internal/testsupport"
)

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	first, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer first.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !first.Running() {
		t.Fatal("daemon should report running")
	}

	second, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new second: %v", err)
	}
	defer second.Close()
	if err := second.Start(ctx); err == nil {
		t.Fatal("second instance should fail to acquire the lock")
	}

	first.Stop()
	if first.Running() {
		t.Fatal("daemon should report stopped")
	}

	// The lock is free again.
	if err := second.Start(ctx); err != nil {
		t.Fatalf("restart after release: %v", err)
	}
	second.Stop()
}

func TestDaemonResumesPersistedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	// Seed the store with one active and one finished job before the
	// daemon comes up.
	store, err := jobs.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	now := time.Now().UTC()

	active := &jobs.Job{ID: "active-job", ProjectName: "Genesis", SubmittedAt: &now}
	active.AppendState(jobs.StateSubmitted, jobs.SourceGeneric, now)
	if err := store.Create(context.Background(), active); err != nil {
		t.Fatalf("create active: %v", err)
	}

	finished := &jobs.Job{ID: "finished-job", ProjectName: "Genesis", SubmittedAt: &now}
	finished.AppendState(jobs.StateSubmitted, jobs.SourceGeneric, now)
	finished.AppendState(jobs.StatePreviewGenerated, jobs.SourcePreview, now.Add(time.Second))
	if err := store.Create(context.Background(), finished); err != nil {
		t.Fatalf("create finished: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The resumed job is polled against an unreachable transform
	// engine, so its submission fails and it reaches a terminal error.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := d.Manager().Get(ctx, "active-job")
		if err == nil && job.IsTerminal() {
			if !job.IsError {
				t.Fatalf("resumed job should have errored, got %+v", job)
			}
			d.Stop()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("resumed job never progressed")
}

func TestDaemonStartRequiresConfig(t *testing.T) {
	if _, err := New(nil, logging.NewNop()); err == nil {
		t.Fatal("expected error without config")
	}
}
