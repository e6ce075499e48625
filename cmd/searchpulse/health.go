package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/searchpulse/pkg/config"
	"github.com/platinummonkey/searchpulse/pkg/observability"
	"github.com/platinummonkey/searchpulse/pkg/store"
)

// startHealthServer serves liveness, readiness, and metrics on a separate
// port so probes and scrapes stay off the API listener.
func startHealthServer(cfg *config.Config, st *store.Store, metrics *observability.Metrics, registry *prometheus.Registry, logger *observability.Logger) *http.Server {
	checker := observability.NewHealthChecker(st.DB())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.Liveness)
	mux.HandleFunc("/readyz", checker.Readiness)
	if cfg.Observability.MetricsEnabled {
		mux.Handle("/metrics", metrics.Handler(registry))
	}

	server := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: mux,
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	return server
}
