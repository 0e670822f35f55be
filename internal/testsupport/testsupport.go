// Package testsupport provides shared fixtures for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"typeset/internal/config"
	"typeset/internal/jobs"
)

// NewConfig returns a validated configuration rooted in a temp
// directory, with the API bound to an ephemeral port and unreachable
// stage endpoints.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Paths.ProjectDir = filepath.Join(root, "projects")
	cfg.Paths.WorkDir = filepath.Join(root, "work")
	cfg.Paths.OutputDir = filepath.Join(root, "output")
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Tagging.Endpoint = "http://127.0.0.1:1"
	cfg.Render.Workers = []config.WorkerConfig{
		{Name: "render-1", Endpoint: "http://127.0.0.1:1"},
	}
	cfg.Transfer.LocalDir = filepath.Join(root, "inbox")
	cfg.Workflow.PollIntervalSec = 1

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fixture config invalid: %v", err)
	}
	return cfg
}

// OpenStore opens a job store in a temp directory.
func OpenStore(t *testing.T) *jobs.Store {
	t.Helper()
	store, err := jobs.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
