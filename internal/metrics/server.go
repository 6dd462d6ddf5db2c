package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pfrederiksen/web-monitor/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// Handler returns the router serving /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", m.handleHealth)

	return r
}

func (m *Metrics) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := m.CurrentHealth()

	status := http.StatusOK
	if h.Status == StatusFailing {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(h); err != nil {
		logger.Warn("Failed to write health response", logger.Fields{"error": err.Error()})
	}
}

// Serve starts the HTTP server in the background. It returns once the
// listener is bound and shuts the server down when ctx is canceled.
func (m *Metrics) Serve(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding metrics listener on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server error", nil, err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", nil, err)
		}
	}()

	logger.Info("Metrics server listening", logger.Fields{"addr": ln.Addr().String()})
	return ln.Addr(), nil
}
