package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJobsSubmitListShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "jobs", "submit", "Genesis", "--user", "translator", "--font-size", "11")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireContains(t, out, "Submitted job")
	requireContains(t, out, "Genesis")

	fields := strings.Fields(out)
	if len(fields) < 3 {
		t.Fatalf("unexpected submit output %q", out)
	}
	jobID := fields[2]

	out, _, err = runCLI(t, env, "jobs", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, jobID)
	requireContains(t, out, "submitted")

	out, _, err = runCLI(t, env, "jobs", "show", jobID)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "Project:   Genesis")
	requireContains(t, out, "User:      translator")
	requireContains(t, out, "submitted")
}

func TestJobsListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "jobs", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, "No jobs")
}

func TestJobsSubmitRejectsBadProjectName(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, env, "jobs", "submit", "not a project!"); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestJobsShowMissing(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, env, "jobs", "show", "ghost"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestJobsCancelAndDelete(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "jobs", "submit", "Genesis")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	jobID := strings.Fields(out)[2]

	out, _, err = runCLI(t, env, "jobs", "cancel", jobID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireContains(t, out, jobID)

	out, _, err = runCLI(t, env, "jobs", "delete", jobID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	requireContains(t, out, "Deleted job "+jobID)

	if _, _, err := runCLI(t, env, "jobs", "show", jobID); err == nil {
		t.Fatal("job should be gone")
	}
}

func TestJobsFileDownload(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "jobs", "submit", "Genesis")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	jobID := strings.Fields(out)[2]

	previewPath := filepath.Join(env.outputDir, "preview-"+jobID+".pdf")
	if err := os.WriteFile(previewPath, []byte("%PDF-1.7"), 0o644); err != nil {
		t.Fatalf("write preview: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "out.pdf")
	out, _, err = runCLI(t, env, "jobs", "file", jobID, "--output", dest)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	requireContains(t, out, "Saved preview to "+dest)

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(data) != "%PDF-1.7" {
		t.Fatalf("content = %q", data)
	}
}

func TestProjectsCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "projects")
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	requireContains(t, out, "Genesis")
	// The fixture project carries exactly one source file; the count
	// column must render it.
	requireContains(t, out, "Sources")
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "Genesis") && !strings.Contains(line, " 1 ") {
			t.Fatalf("source count missing from row %q", line)
		}
	}
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "[OK]")
}
