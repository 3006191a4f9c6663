package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/config"
	"github.com/JakeFAU/places-scraper/internal/metrics"
	"github.com/JakeFAU/places-scraper/internal/scrape"
	"github.com/JakeFAU/places-scraper/internal/service"
)

// Scraper is the operation set the handlers call into.
type Scraper interface {
	RunSync(ctx context.Context, query string, params scrape.RunParams) ([]scrape.Record, error)
	RunBulk(ctx context.Context, queries []string, params scrape.RunParams) ([]service.BulkResult, error)
	SubmitAsync(ctx context.Context, query string, params scrape.RunParams) (string, error)
	GetStatus(ctx context.Context, jobID string) (scrape.Job, error)
	ListJobs(ctx context.Context) ([]scrape.JobSummary, error)
	Health(ctx context.Context) service.Readiness
}

// Server wires HTTP handlers to the scrape service.
type Server struct {
	router  chi.Router
	scraper Scraper
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(scraper Scraper, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scraper: scraper,
		cfg:     cfg,
		logger:  logger,
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/scrape", s.scrapeSync)
		r.Post("/scrape/bulk", s.scrapeBulk)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Get("/{job_id}", s.getJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type scrapeRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	Workers    int    `json:"workers"`
}

func (r scrapeRequest) params() scrape.RunParams {
	return scrape.RunParams{MaxResults: r.MaxResults, Workers: r.Workers}
}

type bulkRequest struct {
	Queries    []string `json:"queries"`
	MaxResults int      `json:"max_results"`
	Workers    int      `json:"workers"`
}

type scrapeResponse struct {
	Query   string          `json:"query"`
	Count   int             `json:"count"`
	Results []scrape.Record `json:"results"`
}

type bulkEntry struct {
	Count   int             `json:"count"`
	Results []scrape.Record `json:"results,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"load":   s.scraper.Health(r.Context()),
	})
}

func (s *Server) scrapeSync(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	records, err := s.scraper.RunSync(r.Context(), req.Query, req.params())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scrapeResponse{Query: req.Query, Count: len(records), Results: records})
}

func (s *Server) scrapeBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	results, err := s.scraper.RunBulk(r.Context(), req.Queries, scrape.RunParams{
		MaxResults: req.MaxResults,
		Workers:    req.Workers,
	})
	if err != nil && len(results) == 0 {
		s.writeServiceError(w, r, err)
		return
	}
	out := make(map[string]bulkEntry, len(results))
	for _, res := range results {
		out[res.Query] = bulkEntry{Count: len(res.Records), Results: res.Records, Error: res.Error}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	jobID, err := s.scraper.SubmitAsync(r.Context(), req.Query, req.params())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(scrape.JobStatusPending),
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.scraper.ListJobs(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.scraper.GetStatus(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scrape.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, scrape.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, scrape.ErrOverCapacity):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "5")
	}
	writeError(w, status, err.Error())
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
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
