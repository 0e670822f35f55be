package reaper

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"typeset/internal/jobs"
	"typeset/internal/logging"
)

type fakeUnscheduler struct {
	mu      sync.Mutex
	removed []string
}

func (f *fakeUnscheduler) Remove(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, jobID)
}

func (f *fakeUnscheduler) removedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func newReaperFixture(t *testing.T) (*Reaper, *jobs.Store, *fakeUnscheduler, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := jobs.Open(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	unscheduler := &fakeUnscheduler{}
	outputDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	r := New(store, jobs.NewGuard(), unscheduler, outputDir, 10*time.Minute, logging.NewNop())
	return r, store, unscheduler, outputDir
}

func createJobAt(t *testing.T, store *jobs.Store, id string, submitted time.Time, completed *time.Time) {
	t.Helper()
	job := &jobs.Job{ID: id, ProjectName: "Genesis", SubmittedAt: &submitted, CompletedAt: completed}
	job.AppendState(jobs.StateSubmitted, jobs.SourceGeneric, submitted)
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func TestSweepJobsRemovesExpired(t *testing.T) {
	r, store, unscheduler, _ := newReaperFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := now.Add(-time.Hour)
	createJobAt(t, store, "expired", old, nil)
	createJobAt(t, store, "fresh", now.Add(-time.Minute), nil)

	r.SweepJobs(ctx)

	if job, _ := store.GetByID(ctx, "expired"); job != nil {
		t.Error("expired job should be removed")
	}
	if job, _ := store.GetByID(ctx, "fresh"); job == nil {
		t.Error("fresh job should survive")
	}
	if removed := unscheduler.removedIDs(); len(removed) != 1 || removed[0] != "expired" {
		t.Errorf("unscheduled = %v", removed)
	}
}

func TestSweepJobsUsesCompletionTimeWhenPresent(t *testing.T) {
	r, store, _, _ := newReaperFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Submitted long ago but completed recently: must survive.
	submitted := now.Add(-2 * time.Hour)
	completed := now.Add(-time.Minute)
	createJobAt(t, store, "recently-done", submitted, &completed)

	r.SweepJobs(ctx)

	if job, _ := store.GetByID(ctx, "recently-done"); job == nil {
		t.Error("recently completed job should survive despite old submission")
	}
}

func TestSweepJobsIsIdempotent(t *testing.T) {
	r, store, _, _ := newReaperFixture(t)
	ctx := context.Background()

	createJobAt(t, store, "expired", time.Now().UTC().Add(-time.Hour), nil)

	r.SweepJobs(ctx)
	r.SweepJobs(ctx)
	r.SweepJobs(ctx)

	listed, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("jobs remaining = %d", len(listed))
	}
}

func TestSweepFilesRemovesOldPreviews(t *testing.T) {
	r, _, _, outputDir := newReaperFixture(t)
	ctx := context.Background()

	oldPath := filepath.Join(outputDir, "preview-old.pdf")
	freshPath := filepath.Join(outputDir, "preview-fresh.pdf")
	otherPath := filepath.Join(outputDir, "notes.txt")
	for _, path := range []string{oldPath, freshPath, otherPath} {
		if err := os.WriteFile(path, []byte("pdf"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	stale := time.Now().Add(-time.Hour)
	if err := os.Chtimes(oldPath, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(otherPath, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	r.SweepFiles(ctx)
	r.SweepFiles(ctx)

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("old preview should be removed")
	}
	if _, err := os.Stat(freshPath); err != nil {
		t.Error("fresh preview should survive")
	}
	if _, err := os.Stat(otherPath); err != nil {
		t.Error("non-preview files must never be touched")
	}
}

func TestStartAndStop(t *testing.T) {
	r, _, _, _ := newReaperFixture(t)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.Stop()
}
