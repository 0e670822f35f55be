package tagging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"typeset/internal/jobs"
	"typeset/internal/services"
)

// HTTPService talks to the transform engine over its HTTP API.
type HTTPService struct {
	baseURL string
	client  *http.Client
}

// NewHTTPService builds a client for the engine at baseURL.
func NewHTTPService(baseURL string) *HTTPService {
	return &HTTPService{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type submitRequest struct {
	JobID       string            `json:"job_id"`
	ProjectName string            `json:"project_name"`
	User        string            `json:"user,omitempty"`
	Layout      jobs.LayoutParams `json:"layout"`
}

// Submit registers the job with the engine.
func (s *HTTPService) Submit(ctx context.Context, job *jobs.Job) error {
	payload := submitRequest{
		JobID:       job.ID,
		ProjectName: job.ProjectName,
		User:        job.User,
		Layout:      job.Layout,
	}
	return s.do(ctx, http.MethodPost, "/jobs", payload, nil)
}

// QueryStatus fetches the engine's status for the job.
func (s *HTTPService) QueryStatus(ctx context.Context, jobID string) (StatusReport, error) {
	var report StatusReport
	err := s.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &report)
	if err != nil {
		return StatusReport{}, err
	}
	return report, nil
}

// Cancel asks the engine to abandon the job. A 404 means the engine
// already forgot the job and is not an error.
func (s *HTTPService) Cancel(ctx context.Context, jobID string) error {
	err := s.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobID), nil, nil)
	if err != nil && isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

// Ping verifies the engine is reachable.
func (s *HTTPService) Ping(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, "/health", nil, nil)
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func isStatus(err error, code int) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == code
	}
	return false
}

func (s *HTTPService) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return services.Wrap(services.ErrExternalTool, "tagged_text", "request", "encode payload", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "tagged_text", "request", "build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "tagged_text", "request", method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return services.Wrap(services.ErrExternalTool, "tagged_text", "request", method+" "+path,
			&statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(data))})
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return services.Wrap(services.ErrExternalTool, "tagged_text", "request", "decode response", err)
		}
	}
	return nil
}
