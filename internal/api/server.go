package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"typeset/internal/jobs"
	"typeset/internal/logging"
	"typeset/internal/manager"
	"typeset/internal/projects"
	"typeset/internal/services"
)

// StatusFunc produces the daemon status payload.
type StatusFunc func(ctx context.Context) DaemonStatus

// Server is the daemon's HTTP API.
type Server struct {
	bind      string
	manager   *manager.Manager
	inventory *projects.Inventory
	status    StatusFunc
	logger    *slog.Logger

	listener net.Listener
	server   *http.Server
}

// NewServer builds the API server. status may be nil, in which case
// /api/status reports only liveness.
func NewServer(bind string, mgr *manager.Manager, inventory *projects.Inventory, status StatusFunc, logger *slog.Logger) *Server {
	s := &Server{
		bind:      strings.TrimSpace(bind),
		manager:   mgr,
		inventory: inventory,
		status:    status,
		logger:    logging.NewComponentLogger(logger, "api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs", s.handleJobs)
	mux.HandleFunc("/api/jobs/", s.handleJob)
	mux.HandleFunc("/api/projects", s.handleProjects)
	mux.HandleFunc("/api/status", s.handleStatus)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving and shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job := &jobs.Job{
		ProjectName: req.ProjectName,
		User:        req.User,
		Layout:      req.Layout,
	}
	submitted, err := s.manager.Submit(r.Context(), job)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, JobResponse{Job: *submitted})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	listed, err := s.manager.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]jobs.Job, 0, len(listed))
	for _, job := range listed {
		out = append(out, *job)
	}
	s.writeJSON(w, http.StatusOK, JobListResponse{Jobs: out})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if len(parts) == 2 {
		switch {
		case parts[1] == "file" && r.Method == http.MethodGet:
			s.handlePreviewFile(w, r, id)
		case parts[1] == "cancel" && r.Method == http.MethodPost:
			s.handleCancel(w, r, id)
		default:
			s.writeError(w, http.StatusNotFound, "not found")
		}
		return
	}
	if len(parts) != 1 {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, err := s.manager.Get(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, JobResponse{Job: *job})
	case http.MethodPut:
		s.handleUpdate(w, r, id)
	case http.MethodDelete:
		job, err := s.manager.Delete(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, JobResponse{Job: *job})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var job jobs.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	job.ID = id
	if err := s.manager.Update(r.Context(), &job); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, JobResponse{Job: job})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.manager.Cancel(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	job, err := s.manager.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, JobResponse{Job: *job})
}

func (s *Server) handlePreviewFile(w http.ResponseWriter, r *http.Request, id string) {
	file, err := s.manager.PreviewFile(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "preview-"+id+".pdf"))
	if _, err := io.Copy(w, file); err != nil {
		s.logger.Warn("stream preview failed",
			logging.String(logging.FieldJobID, id), logging.Error(err))
	}
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	details, err := s.inventory.Details()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, ProjectListResponse{Projects: details})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.status == nil {
		s.writeJSON(w, http.StatusOK, DaemonStatus{Running: true})
		return
	}
	s.writeJSON(w, http.StatusOK, s.status(r.Context()))
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
