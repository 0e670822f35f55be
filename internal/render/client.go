package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"typeset/internal/jobs"
	"typeset/internal/services"
)

// Client invokes one render engine instance. Render blocks until the
// engine finishes and the preview file exists at outputPath.
type Client interface {
	Render(ctx context.Context, job *jobs.Job, inputDir, outputPath string) error
	Ping(ctx context.Context) error
}

// HTTPClient talks to a render engine over HTTP. The engine reads job
// inputs from the shared work directory and streams the finished PDF
// back in the response body.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient builds a client for the engine at endpoint. timeout
// bounds a single render invocation end to end.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type renderRequest struct {
	JobID       string            `json:"job_id"`
	ProjectName string            `json:"project_name"`
	Layout      jobs.LayoutParams `json:"layout"`
	InputDir    string            `json:"input_dir"`
}

// Render submits the job and writes the returned PDF to outputPath.
func (c *HTTPClient) Render(ctx context.Context, job *jobs.Job, inputDir, outputPath string) error {
	payload, err := json.Marshal(renderRequest{
		JobID:       job.ID,
		ProjectName: job.ProjectName,
		Layout:      job.Layout,
		InputDir:    inputDir,
	})
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "render", "request", "encode payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/render", bytes.NewReader(payload))
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "render", "request", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "render", "invoke", "engine unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return services.Wrap(services.ErrExternalTool, "render", "invoke",
			fmt.Sprintf("engine returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data)), nil)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	// Write to a temp name first so a partially transferred preview is
	// never visible under the final name.
	tmpPath := outputPath + ".partial"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return services.Wrap(services.ErrExternalTool, "render", "invoke", "stream preview", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("finalize %s: %w", outputPath, err)
	}
	return nil
}

// Ping verifies the engine is reachable.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine returned status %d", resp.StatusCode)
	}
	return nil
}
