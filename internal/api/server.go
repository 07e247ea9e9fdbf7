// Package api serves mined results and run control over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/cognicore/affinity/internal/metrics"
	"github.com/cognicore/affinity/pkg/affinity/internalerr"
	"github.com/cognicore/affinity/pkg/affinity/miner"
	"github.com/cognicore/affinity/pkg/affinity/store"
)

const (
	// DefaultResultsLimit is the number of rows returned when no limit is given.
	DefaultResultsLimit = 50

	// MaxResultsLimit caps the limit query parameter.
	MaxResultsLimit = 1000

	// DefaultHTTPTimeout bounds read-only requests. Run triggers are exempt.
	DefaultHTTPTimeout = 30 * time.Second
)

// Engine is the subset of the mining engine the API needs.
type Engine interface {
	AnalysisTypes(ctx context.Context) ([]string, error)
	Results(ctx context.Context, analysisType string, limit int) ([]store.ResultRow, error)
	LatestRun(ctx context.Context, analysisType string) (store.Run, bool, error)
	MineStored(ctx context.Context, analysisType string) (miner.Summary, error)
}

// Server routes API requests to an Engine.
type Server struct {
	engine Engine
	router chi.Router
}

// New creates a Server with routes and middleware installed.
func New(engine Engine) *Server {
	s := &Server{engine: engine, router: chi.NewRouter()}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(instrument)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1/analyses", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(DefaultHTTPTimeout))
			r.Get("/", s.handleAnalyses)
			r.Get("/{type}/results", s.handleResults)
			r.Get("/{type}/runs/latest", s.handleLatestRun)
		})
		r.Post("/{type}/runs", s.handleTriggerRun)
	})
}

// instrument records request metrics and an access log line.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		metrics.RecordRequest(r.Method, route, status, d)
		log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", d).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, internalerr.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, internalerr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, internalerr.ErrRunInProgress):
		status = http.StatusConflict
	case errors.Is(err, internalerr.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	types, err := s.engine.AnalysisTypes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if types == nil {
		types = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"analysis_types": types})
}

type resultsBody struct {
	AnalysisType string            `json:"analysis_type"`
	Results      []store.ResultRow `json:"results"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	analysisType := chi.URLParam(r, "type")
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.engine.Results(r.Context(), analysisType, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []store.ResultRow{}
	}
	writeJSON(w, http.StatusOK, resultsBody{AnalysisType: analysisType, Results: rows})
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	analysisType := chi.URLParam(r, "type")
	run, ok, err := s.engine.LatestRun(r.Context(), analysisType)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, internalerr.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	analysisType := chi.URLParam(r, "type")
	sum, err := s.engine.MineStored(r.Context(), analysisType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultResultsLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.Join(internalerr.ErrInvalidInput, errors.New("limit must be a positive integer"))
	}
	return min(n, MaxResultsLimit), nil
}
