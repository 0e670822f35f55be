package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"typeset/internal/jobs"
	"typeset/internal/logging"
	"typeset/internal/manager"
	"typeset/internal/projects"
)

type noopScheduling struct{}

func (noopScheduling) Add(string) {}

func (noopScheduling) Remove(string) {}

func (noopScheduling) CancelJob(context.Context, string) error { return nil }

type serverFixture struct {
	server    *httptest.Server
	manager   *manager.Manager
	outputDir string
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	dir := t.TempDir()
	store, err := jobs.Open(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	outputDir := filepath.Join(dir, "out")
	projectDir := filepath.Join(dir, "projects")
	for _, d := range []string{outputDir, filepath.Join(projectDir, "Genesis")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(projectDir, "Genesis", "GEN.usx"), []byte("<usx/>"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	mgr := manager.New(store, jobs.NewGuard(), noopScheduling{}, outputDir, logging.NewNop())
	inventory := projects.NewInventory(projectDir, time.Minute, logging.NewNop())
	statusFn := func(context.Context) DaemonStatus {
		return DaemonStatus{Running: true, PID: os.Getpid(), QueueDepth: 0}
	}

	apiServer := NewServer("127.0.0.1:0", mgr, inventory, statusFn, logging.NewNop())
	ts := httptest.NewServer(apiServer.Handler())
	t.Cleanup(ts.Close)

	return &serverFixture{server: ts, manager: mgr, outputDir: outputDir}
}

func (f *serverFixture) client() *Client {
	return NewClient(f.server.URL)
}

func TestSubmitAndGetJob(t *testing.T) {
	f := newServerFixture(t)
	client := f.client()
	ctx := context.Background()

	job, err := client.Submit(ctx, SubmitRequest{ProjectName: "Genesis", User: "translator"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID == "" {
		t.Fatal("no id assigned")
	}

	got, err := client.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ProjectName != "Genesis" {
		t.Errorf("project = %q", got.ProjectName)
	}
	current, ok := got.CurrentState()
	if !ok || current.State != jobs.StateSubmitted {
		t.Errorf("state = %+v", current)
	}
}

func TestSubmitValidationReturns400(t *testing.T) {
	f := newServerFixture(t)

	body, _ := json.Marshal(SubmitRequest{ProjectName: "bad name!"})
	resp, err := http.Post(f.server.URL+"/api/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSubmitReturns201(t *testing.T) {
	f := newServerFixture(t)

	body, _ := json.Marshal(SubmitRequest{ProjectName: "Genesis"})
	resp, err := http.Post(f.server.URL+"/api/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
}

func TestGetMissingJobReturns404(t *testing.T) {
	f := newServerFixture(t)
	resp, err := http.Get(f.server.URL + "/api/jobs/ghost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListJobs(t *testing.T) {
	f := newServerFixture(t)
	client := f.client()
	ctx := context.Background()

	if _, err := client.Submit(ctx, SubmitRequest{ProjectName: "Genesis"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := client.Submit(ctx, SubmitRequest{ProjectName: "Genesis"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	listed, err := client.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Errorf("jobs = %d, want 2", len(listed))
	}
}

func TestDeleteJob(t *testing.T) {
	f := newServerFixture(t)
	client := f.client()
	ctx := context.Background()

	job, _ := client.Submit(ctx, SubmitRequest{ProjectName: "Genesis"})
	deleted, err := client.Delete(ctx, job.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.ID != job.ID {
		t.Errorf("deleted = %s", deleted.ID)
	}
	if _, err := client.Get(ctx, job.ID); err == nil {
		t.Error("job should be gone")
	}
}

func TestUpdateJob(t *testing.T) {
	f := newServerFixture(t)
	client := f.client()
	ctx := context.Background()

	job, _ := client.Submit(ctx, SubmitRequest{ProjectName: "Genesis"})
	job.User = "reviewer"
	updated, err := client.Update(ctx, job)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.User != "reviewer" {
		t.Errorf("user = %q", updated.User)
	}

	got, err := client.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.User != "reviewer" {
		t.Errorf("persisted user = %q", got.User)
	}
}

func TestPreviewFileDownload(t *testing.T) {
	f := newServerFixture(t)
	client := f.client()
	ctx := context.Background()

	job, _ := client.Submit(ctx, SubmitRequest{ProjectName: "Genesis"})

	// No file yet.
	resp, err := http.Get(f.server.URL + "/api/jobs/" + job.ID + "/file")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	previewPath := filepath.Join(f.outputDir, "preview-"+job.ID+".pdf")
	if err := os.WriteFile(previewPath, []byte("%PDF-1.7"), 0o644); err != nil {
		t.Fatalf("write preview: %v", err)
	}

	destPath := filepath.Join(t.TempDir(), "out.pdf")
	if err := client.DownloadPreview(ctx, job.ID, destPath); err != nil {
		t.Fatalf("download: %v", err)
	}
	data, _ := os.ReadFile(destPath)
	if string(data) != "%PDF-1.7" {
		t.Errorf("content = %q", data)
	}
}

func TestProjectsEndpoint(t *testing.T) {
	f := newServerFixture(t)
	listed, err := f.client().Projects(context.Background())
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	if len(listed) != 1 || listed[0].Name != "Genesis" {
		t.Errorf("projects = %+v", listed)
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newServerFixture(t)
	status, err := f.client().Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running || status.PID != os.Getpid() {
		t.Errorf("status = %+v", status)
	}
}

func TestCancelEndpoint(t *testing.T) {
	f := newServerFixture(t)
	client := f.client()
	ctx := context.Background()

	job, _ := client.Submit(ctx, SubmitRequest{ProjectName: "Genesis"})
	if _, err := client.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newServerFixture(t)
	req, _ := http.NewRequest(http.MethodPatch, f.server.URL+"/api/jobs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
