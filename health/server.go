package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/streamwire/metric"
)

// Server exposes health and metrics over HTTP. GET /healthz returns the
// aggregated status as JSON with a 200 or 503 status code; GET /metrics
// serves the Prometheus registry.
type Server struct {
	monitor *Monitor
	name    string
	log     *slog.Logger
	srv     *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// NewServer creates a health server for monitor, listening on port. A nil
// registry disables the /metrics route.
func NewServer(name string, port int, monitor *Monitor, registry *metric.MetricsRegistry, opts ...ServerOption) *Server {
	s := &Server{
		monitor: monitor,
		name:    name,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	// Method-qualified ServeMux patterns ("GET /healthz") need Go 1.22+;
	// guard the method explicitly so this builds with Go 1.21.
	mux.HandleFunc("/healthz", getOnly(s.handleHealth))
	if registry != nil {
		mux.Handle("/metrics", getOnly(promhttp.HandlerFor(registry.PrometheusRegistry(), promhttp.HandlerOpts{}).ServeHTTP))
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	agg := s.monitor.Aggregate(s.name)

	w.Header().Set("Content-Type", "application/json")
	if agg.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(agg); err != nil {
		s.log.Warn("encode health response", "error", err)
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("health server failed", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler returns the HTTP handler, used by tests and embedders.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}
