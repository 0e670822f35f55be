package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"typeset/internal/api"
	"typeset/internal/jobs"
	"typeset/internal/logging"
	"typeset/internal/manager"
	"typeset/internal/projects"
)

type noopScheduling struct{}

func (noopScheduling) Add(string) {}

func (noopScheduling) Remove(string) {}

func (noopScheduling) CancelJob(context.Context, string) error { return nil }

type cliTestEnv struct {
	server    *httptest.Server
	manager   *manager.Manager
	outputDir string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	store, err := jobs.Open(filepath.Join(base, "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	outputDir := filepath.Join(base, "output")
	projectDir := filepath.Join(base, "projects")
	for _, dir := range []string{outputDir, filepath.Join(projectDir, "Genesis")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(projectDir, "Genesis", "GEN.usx"), []byte("<usx/>"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	mgr := manager.New(store, jobs.NewGuard(), noopScheduling{}, outputDir, logging.NewNop())
	inventory := projects.NewInventory(projectDir, time.Minute, logging.NewNop())
	statusFn := func(context.Context) api.DaemonStatus {
		return api.DaemonStatus{Running: true, PID: os.Getpid(), JobDBPath: filepath.Join(base, "jobs.db")}
	}

	apiServer := api.NewServer("127.0.0.1:0", mgr, inventory, statusFn, logging.NewNop())
	ts := httptest.NewServer(apiServer.Handler())
	t.Cleanup(ts.Close)

	return &cliTestEnv{server: ts, manager: mgr, outputDir: outputDir}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--addr", env.server.URL}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
