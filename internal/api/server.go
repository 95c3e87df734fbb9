package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/multisite-scraper/internal/crawler"
	"github.com/JakeFAU/multisite-scraper/internal/metrics"
)

const requestTimeout = 30 * time.Second

// ReportSource exposes the most recent crawl report, if any.
type ReportSource interface {
	Latest() (crawler.CrawlReport, bool)
}

// ReportHolder is a goroutine-safe ReportSource the crawl updates when it finishes.
type ReportHolder struct {
	mu     sync.RWMutex
	report crawler.CrawlReport
	set    bool
}

// Set replaces the held report.
func (h *ReportHolder) Set(report crawler.CrawlReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.report = report
	h.set = true
}

// Latest returns the held report and whether one has been set.
func (h *ReportHolder) Latest() (crawler.CrawlReport, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.report, h.set
}

// Server wires HTTP handlers to the crawl state.
type Server struct {
	router  chi.Router
	reports ReportSource
	logger  *zap.Logger
	ready   atomic.Bool
}

// NewServer constructs a Server with middleware and routes.
func NewServer(reports ReportSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		reports: reports,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/report", func(r chi.Router) {
		r.Get("/", s.getReport)
		r.Get("/sites/{site}", s.getSiteReport)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// MarkReady flips /readyz to 200 once the crawl services are built.
func (s *Server) MarkReady() {
	s.ready.Store(true)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		s.writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getReport(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.latest()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no crawl report yet")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) getSiteReport(w http.ResponseWriter, r *http.Request) {
	site := chi.URLParam(r, "site")
	report, ok := s.latest()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no crawl report yet")
		return
	}
	entry, ok := report.Websites[site]
	if !ok {
		s.writeError(w, http.StatusNotFound, "site not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"site": site, "report": entry})
}

func (s *Server) latest() (crawler.CrawlReport, bool) {
	if s.reports == nil {
		return crawler.CrawlReport{}, false
	}
	return s.reports.Latest()
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
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
			logger.Debug("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
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

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(s.logger, w, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeError(s.logger, w, status, msg)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
