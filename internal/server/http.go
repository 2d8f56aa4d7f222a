package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mj1618/portal-pilot/internal/agent"
	"github.com/mj1618/portal-pilot/internal/platform"
	"github.com/mj1618/portal-pilot/internal/runstore"
)

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleSubmitJob)
		r.Get("/queue", s.handleQueue)
		r.Get("/execution", s.handleExecution)
		r.Post("/stop", s.handleStop)
		r.Get("/screen", s.handleScreen)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleRuns)
			r.Get("/{id}", s.handleRun)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

type submitJobRequest struct {
	Tag string `json:"tag"`
	agent.JobRequest
}

// SubmitJobResponse is returned by POST /v1/jobs.
type SubmitJobResponse struct {
	JobID    string `yaml:"job_id"   json:"job_id"`
	Position int    `yaml:"position" json:"position"`
	Started  bool   `yaml:"started"  json:"started"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	job, pos, started, err := s.SubmitJob(req.Tag, req.JobRequest)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusAccepted, SubmitJobResponse{JobID: job.ID, Position: pos, Started: started})
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, s.deps.Jobs.Queue().Status())
}

func (s *Server) handleExecution(w http.ResponseWriter, _ *http.Request) {
	exec := s.deps.Tracker.Current()
	if exec == nil {
		respondWithError(w, http.StatusNotFound, "no execution has run yet")
		return
	}
	respondWithJSON(w, http.StatusOK, exec.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.RequestStop()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	opts := s.opts.Capture
	if q := r.URL.Query().Get("region"); q != "" {
		b, err := platform.ParseBBox(q)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Region = b
	}
	screen, err := s.cache.Parse(r.Context(), s.deps.Perceiver, opts)
	if err != nil {
		respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, screen)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		respondWithError(w, http.StatusNotImplemented, "run history is disabled")
		return
	}
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.deps.Runs.Recent(r.Context(), limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []agent.Result{}
	}
	respondWithJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		respondWithError(w, http.StatusNotImplemented, "run history is disabled")
		return
	}
	res, err := s.deps.Runs.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, runstore.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
