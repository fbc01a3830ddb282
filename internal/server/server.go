package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwbudde/eqfit/internal/eq"
	"github.com/cwbudde/eqfit/internal/store"
)

// Defaults applied to job configs at creation time, so every persisted job
// record is fully self-describing.
const (
	defaultFilters = 7
	defaultIters   = 200
	defaultPopSize = 60
)

// Server exposes fitting jobs over HTTP.
type Server struct {
	jobManager      *JobManager
	addr            string
	server          *http.Server
	checkpointStore store.Store // nil disables checkpointing
	traceDir        string      // empty disables cost traces
}

// NewServer creates a new HTTP server. checkpointStore may be nil and
// traceDir may be empty to disable the respective persistence.
func NewServer(addr string, checkpointStore store.Store, traceDir string) *Server {
	return &Server{
		jobManager:      NewJobManager(),
		addr:            addr,
		checkpointStore: checkpointStore,
		traceDir:        traceDir,
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)

	// Wrap with middleware
	handler := s.loggingMiddleware(s.corsMiddleware(mux))

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: handler,
	}

	slog.Info("starting http server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down http server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "job ID required")
		return
	}

	jobID := parts[0]

	switch {
	case len(parts) == 1 || parts[1] == "status":
		s.handleGetJobStatus(w, r, jobID)
	case parts[1] == "result":
		s.handleGetJobResult(w, r, jobID)
	case parts[1] == "response":
		s.handleGetJobResponse(w, r, jobID)
	case parts[1] == "events":
		s.handleJobStream(w, r, jobID)
	case parts[1] == "cancel":
		s.handleCancelJob(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var config JobConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if config.Filters <= 0 {
		config.Filters = defaultFilters
	}
	if config.Iters <= 0 {
		config.Iters = defaultIters
	}
	if config.PopSize <= 0 {
		config.PopSize = defaultPopSize
	}
	if config.Algorithm == "" {
		config.Algorithm = eq.AlgorithmDE
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.SPL <= 0 {
		config.SPL = 85
	}

	if config.Algorithm != eq.AlgorithmDE && config.Algorithm != eq.AlgorithmMayfly {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown algorithm %q", config.Algorithm))
		return
	}

	// Reject bad curves before a job record exists, so every stored job is
	// runnable.
	if _, err := buildProblem(config); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := s.jobManager.CreateJob(config, cancel)

	// Start worker in background
	go runJob(ctx, s.jobManager, s.checkpointStore, s.traceDir, job.ID)

	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobManager.ListJobs()

	// Summaries only; the per-job endpoints carry the curves.
	summaries := make([]jobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, summarizeJob(job))
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	response := map[string]interface{}{
		"id":          job.ID,
		"state":       job.State,
		"config":      job.Config,
		"bestCost":    job.BestCost,
		"initialCost": job.InitialCost,
		"generation":  job.Generation,
		"preamp":      job.Preamp,
		"elapsed":     elapsed.Seconds(),
		"evalsPerSec": evalRate(job.Generation, job.Config.PopSize, elapsed),
		"startTime":   job.StartTime,
		"endTime":     job.EndTime,
		"error":       job.Error,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleGetJobResult handles GET /api/v1/jobs/:id/result
func (s *Server) handleGetJobResult(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if job.State == StatePending || job.State == StateRunning {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, result not ready", job.State))
		return
	}
	if len(job.BestParams) == 0 {
		writeError(w, http.StatusConflict, "job produced no result")
		return
	}

	writeJSON(w, http.StatusOK, resultPayload(job))
}

// handleGetJobResponse handles GET /api/v1/jobs/:id/response. It returns
// the grid, the target curve, and the fitted bank's response so clients can
// plot fit quality.
func (s *Server) handleGetJobResponse(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if len(job.BestParams) == 0 {
		writeError(w, http.StatusConflict, "no parameters fitted yet")
		return
	}

	problem, err := buildProblem(job.Config)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          job.ID,
		"frequencies": problem.Grid(),
		"target":      problem.Target(),
		"response":    problem.Response(job.BestParams),
	})
}

// handleCancelJob handles POST /api/v1/jobs/:id/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if _, exists := s.jobManager.GetJob(jobID); !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if err := s.jobManager.CancelJob(jobID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":    jobID,
		"state": "cancelling",
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
