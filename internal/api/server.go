package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"file-processing-pipeline/internal/jobs"
	"file-processing-pipeline/internal/queue"
	"file-processing-pipeline/internal/telemetry"
)

const (
	defaultJobsLimit = 50
	maxJobsLimit     = 200
)

// Server wires the operator HTTP surface: queue introspection, manual
// retries, and a health probe.
type Server struct {
	queue queue.Queue
	log   zerolog.Logger
}

// New constructs the operator API server.
func New(q queue.Queue, log zerolog.Logger) *Server {
	return &Server{queue: q, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/queue/stats", s.handleStats)
	r.Get("/queue/jobs", s.handleListJobs)
	r.Post("/queue/jobs/{jobID}/retry", s.handleRetry)
	return r
}

type statsCounts struct {
	jobs.Counts
	Total int64 `json:"total"`
}

type statsResponse struct {
	Counts statsCounts `json:"counts"`
	Health string      `json:"health"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.queue.Counts(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("queue counts failed")
		http.Error(w, "failed to read queue counts", http.StatusInternalServerError)
		return
	}
	telemetry.QueueDepth.Set(float64(counts.Waiting))
	writeJSON(w, http.StatusOK, statsResponse{
		Counts: statsCounts{Counts: counts, Total: counts.Total()},
		Health: counts.Health(),
	})
}

// jobSummary is the operator view of a job. Field names follow the
// conventions queue dashboards expect.
type jobSummary struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data"`
	Timestamp    time.Time       `json:"timestamp"`
	ProcessedOn  *time.Time      `json:"processedOn,omitempty"`
	FinishedOn   *time.Time      `json:"finishedOn,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	AttemptsMade int             `json:"attemptsMade"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	state := jobs.State(r.URL.Query().Get("status"))
	if state == "" {
		state = jobs.StateWaiting
	}
	if !validState(state) {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}

	offset := queryInt64(r, "offset", 0)
	limit := queryInt64(r, "limit", defaultJobsLimit)
	if limit <= 0 || limit > maxJobsLimit {
		limit = defaultJobsLimit
	}

	list, err := s.queue.JobsByState(r.Context(), state, offset, limit)
	if err != nil {
		s.log.Error().Err(err).Str("status", string(state)).Msg("job listing failed")
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}

	out := make([]jobSummary, 0, len(list))
	for _, job := range list {
		out = append(out, jobSummary{
			ID:           job.ID,
			Name:         string(job.Kind),
			Data:         job.Payload,
			Timestamp:    job.CreatedAt,
			ProcessedOn:  job.ProcessedOn,
			FinishedOn:   job.FinishedOn,
			FailedReason: job.FailedReason,
			AttemptsMade: job.AttemptsMade,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out, "status": state})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.queue.Retry(r.Context(), jobID); err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			http.Error(w, "no failed job with that id", http.StatusNotFound)
			return
		}
		s.log.Error().Err(err).Str("job_id", jobID).Msg("manual retry failed")
		http.Error(w, "retry failed", http.StatusInternalServerError)
		return
	}
	s.log.Info().Str("job_id", jobID).Msg("job re-queued by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "id": jobID})
}

func validState(state jobs.State) bool {
	for _, s := range jobs.States {
		if s == state {
			return true
		}
	}
	return false
}

func queryInt64(r *http.Request, key string, def int64) int64 {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
