/**
 * Health Server
 *
 * Small HTTP surface next to the queue worker:
 *   GET /health        liveness
 *   GET /ready         runs dependency checks, 503 if any fails
 *   GET /stats         queue and pool statistics
 *   GET /jobs/{jobId}  stored job status
 */

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/adverant/nexus/docscan-worker/internal/logging"
	"github.com/adverant/nexus/docscan-worker/internal/storage"
)

// CheckTimeout bounds each readiness check.
const CheckTimeout = 5 * time.Second

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// StatsFunc returns worker statistics.
type StatsFunc func(ctx context.Context) (map[string]interface{}, error)

// JobLookup returns the stored state of a job.
type JobLookup func(ctx context.Context, jobID string) (map[string]interface{}, error)

// Options wires the server to the worker.
type Options struct {
	Checks map[string]CheckFunc
	Stats  StatsFunc // optional
	Jobs   JobLookup // optional
}

// Server serves health endpoints.
type Server struct {
	router *mux.Router
	srv    *http.Server
	opts   Options
	logger *logging.Logger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, opts Options) *Server {
	s := &Server{
		router: mux.NewRouter(),
		opts:   opts,
		logger: logging.NewLogger("[Health]"),
	}
	s.RegisterRoutes(s.router)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// RegisterRoutes registers health routes
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", s.Health).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.Ready).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.Stats).Methods(http.MethodGet)
	router.HandleFunc("/jobs/{jobId}", s.GetJob).Methods(http.MethodGet)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in the background. Listen errors other than shutdown are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Health server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Health server stopped", "error", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Health handles liveness requests
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles readiness requests
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.opts.Checks))
	for name := range s.opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), CheckTimeout)
		err := s.opts.Checks[name](ctx)
		cancel()

		if err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			s.logger.Warn("Readiness check failed", "check", name, "error", err)
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": results,
	})
}

// Stats handles statistics requests
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stats == nil {
		writeError(w, http.StatusNotFound, "statistics not available")
		return
	}
	stats, err := s.opts.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetJob handles job status requests
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	if s.opts.Jobs == nil {
		writeError(w, http.StatusNotFound, "job history not available")
		return
	}
	jobID := mux.Vars(r)["jobId"]

	job, err := s.opts.Jobs(r.Context(), jobID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
