// Package api exposes the HTTP interface for the tender harvesting service.
package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/akarpov/tender-harvester/internal/config"
	"github.com/akarpov/tender-harvester/internal/crawler"
	"github.com/akarpov/tender-harvester/internal/dispatcher"
	"github.com/akarpov/tender-harvester/internal/metrics"
)

// TableResolver maps an artifact path to a readable local filesystem path.
// Only the local blob store supports read-back; other backends leave the
// table endpoint unavailable.
type TableResolver interface {
	ResolvePath(path string) string
}

// Server wires HTTP handlers to the dispatcher and job store.
type Server struct {
	router     chi.Router
	jobStore   crawler.JobStore
	dispatcher *dispatcher.Dispatcher
	idGen      crawler.IDGenerator
	clock      crawler.Clock
	resolver   TableResolver
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. resolver may be
// nil when the storage backend has no local read path.
func NewServer(
	jobStore crawler.JobStore,
	dispatcher *dispatcher.Dispatcher,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	resolver TableResolver,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:   jobStore,
		dispatcher: dispatcher,
		idGen:      idGen,
		clock:      clock,
		resolver:   resolver,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.submitJob)
		r.Get("/jobs/{job_id}", s.getJob)
		r.Get("/tenders", s.listTenders)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The job store is the only hard dependency for accepting work.
	if _, err := s.jobStore.GetJob(r.Context(), "readiness-probe"); err != nil &&
		!errors.Is(err, crawler.ErrJobNotFound) {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	TargetCount *int   `json:"target_count"`
	OutputFile  string `json:"output_file"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params := s.toJobParameters(req)
	if params.TargetCount < 0 {
		writeError(w, http.StatusBadRequest, "target_count must be non-negative")
		return
	}
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "started",
	})
}

// getJob reports job state. Unknown IDs answer as pending rather than 404 so
// a client polling immediately after submit never sees a hard error while the
// record is still in flight to the store.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrJobNotFound) {
			writeJSON(w, http.StatusOK, jobStatusResponse{ID: jobID, Status: string(crawler.JobStatusPending)})
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, toJobStatusResponse(job))
}

func (s *Server) listTenders(w http.ResponseWriter, r *http.Request) {
	if s.resolver == nil {
		writeError(w, http.StatusNotFound, "tender table is not available on this storage backend")
		return
	}
	path := s.resolver.ResolvePath(s.cfg.Output.File)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "tender table not found; run a job first")
			return
		}
		s.logger.Error("open tender table failed", zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to open tender table")
		return
	}
	defer f.Close()

	rows, err := readTable(f)
	if err != nil {
		s.logger.Error("read tender table failed", zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read tender table")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenders": rows})
}

// readTable converts the CSV artifact into JSON-friendly rows keyed by header.
func readTable(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []map[string]string{}, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	rows := make([]map[string]string, 0)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Server) toJobParameters(req submitJobRequest) crawler.JobParameters {
	params := crawler.JobParameters{
		TargetCount: s.cfg.Crawler.DefaultTargetCount,
		OutputFile:  s.cfg.Output.File,
	}
	if req.TargetCount != nil {
		params.TargetCount = *req.TargetCount
	}
	if req.OutputFile != "" {
		params.OutputFile = req.OutputFile
	}
	return params
}

func (s *Server) enqueueJob(ctx context.Context, params crawler.JobParameters) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := crawler.Job{
		ID:         jobID,
		Status:     crawler.JobStatusPending,
		Submitted:  now,
		Parameters: params,
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := crawler.QueueItem{
		JobID:     jobID,
		Params:    params,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

type jobStatusResponse struct {
	ID       string               `json:"id"`
	Status   string               `json:"status"`
	Result   string               `json:"result,omitempty"`
	Error    string               `json:"error,omitempty"`
	Counters *crawler.JobCounters `json:"counters,omitempty"`
}

func toJobStatusResponse(job crawler.Job) jobStatusResponse {
	resp := jobStatusResponse{
		ID:     job.ID,
		Status: string(job.Status),
		Result: job.ResultURI,
		Error:  job.ErrorText,
	}
	if job.Status.Terminal() {
		counters := job.Counters
		resp.Counters = &counters
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
