package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/leadroute/core/logger"
)

// HealthFunc reports nil while the service is healthy.
type HealthFunc func() error

// NewHandler serves /metrics from gatherer and /healthz from health.
func NewHandler(gatherer prometheus.Gatherer, health HealthFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := map[string]string{"status": "ok"}
		if health != nil {
			if err := health(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				body = map[string]string{"status": "degraded", "error": err.Error()}
			}
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	return mux
}

// StartPromServer serves the default registry and health on addr until ctx
// is cancelled.
func StartPromServer(ctx context.Context, addr string, health HealthFunc, log logger.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(prometheus.DefaultGatherer, health),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("prom server shutdown: %v", err)
		}
		cancel()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
